package dte

import (
	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

const dateLayout = "2006-01-02"

// ToDocumentResponse convierte la entidad en la respuesta HTTP.
func ToDocumentResponse(doc *entity.TaxDocument) *dto.DocumentResponse {
	out := &dto.DocumentResponse{
		ID:                 doc.ID,
		DocumentType:       int(doc.DocumentType),
		DocumentTypeName:   sii.DocTypeNames[int(doc.DocumentType)],
		Folio:              doc.Folio,
		IssuerRUT:          doc.IssuerRUT,
		ReceiverRUT:        doc.ReceiverRUT,
		ReceiverName:       doc.ReceiverName,
		IssueDate:          doc.IssueDate.Format(dateLayout),
		NetAmount:          doc.NetAmount,
		ExemptAmount:       doc.ExemptAmount,
		TaxAmount:          doc.TaxAmount,
		TotalAmount:        doc.TotalAmount,
		State:              string(doc.State),
		TrackID:            doc.TrackID,
		AuthorityMessage:   doc.AuthorityMessage,
		SubmissionAttempts: doc.SubmissionAttempts,
		Items:              make([]dto.LineItemResponse, 0, len(doc.LineItems)),
	}
	for _, li := range doc.LineItems {
		out.Items = append(out.Items, dto.LineItemResponse{
			LineNumber:      li.LineNumber,
			Description:     li.Description,
			Quantity:        li.Quantity,
			UnitPrice:       li.UnitPrice,
			DiscountPercent: li.DiscountPercent,
			TaxExempt:       li.TaxExempt,
			Amount:          li.Amount,
		})
	}
	for _, ref := range doc.References {
		out.References = append(out.References, dto.ReferenceResponse{
			DocumentType: int(ref.DocumentType),
			Folio:        ref.Folio,
			Date:         ref.Date.Format(dateLayout),
			Code:         ref.Code,
			Reason:       ref.Reason,
		})
	}
	return out
}
