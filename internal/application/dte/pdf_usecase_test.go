package dte_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

type fakePDF struct{ timbre string }

func (f *fakePDF) Generate(doc *entity.TaxDocument, timbre string) ([]byte, error) {
	f.timbre = timbre
	return []byte("%PDF-1.4"), nil
}

func TestPDF_DocumentoEnviado(t *testing.T) {
	e := newEnv(1000, 1001)
	gen := &fakePDF{}
	uc := dte.NewPDFUseCase(e.docs, e.auth, fakeBuilder{}, gen)
	doc := e.mustIssue(t)
	_, err := e.pipeline.Submit(context.Background(), doc.ID)
	require.NoError(t, err)

	pdf, name, err := uc.Download(context.Background(), doc.ID)

	require.NoError(t, err)
	assert.Equal(t, "DTE_33_1000.pdf", name)
	assert.Equal(t, []byte("%PDF-1.4"), pdf)
	assert.Equal(t, `<TED F="1000"/>`, gen.timbre)
}

func TestPDF_BorradorNoSeImprime(t *testing.T) {
	e := newEnv(1000, 1001)
	uc := dte.NewPDFUseCase(e.docs, e.auth, fakeBuilder{}, &fakePDF{})
	doc := e.mustIssue(t)

	_, _, err := uc.Download(context.Background(), doc.ID)

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
