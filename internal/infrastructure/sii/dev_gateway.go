package sii

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	siipkg "github.com/jhoicas/sii-dte-api/pkg/sii"
)

var _ ports.TaxAuthorityGateway = (*DevGateway)(nil)

// DevGatewayConfig comportamiento del simulador.
type DevGatewayConfig struct {
	RangeSize   int64 // folios por CAF sintético (por defecto 1000)
	AcceptAfter int   // consultas en REC antes de responder EPR (por defecto 1)
	CompanyName string
}

// DevGateway simula al SII sin red: genera CAF con llave propia, asigna TrackID
// correlativos y procesa cada envío tras AcceptAfter consultas. Un EnvioDTE sin
// Documento se rechaza con RSC; un Documento sin TED cuenta como rechazado dentro del EPR.
type DevGateway struct {
	cfg DevGatewayConfig
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	key       *rsa.PrivateKey
	ranges    map[string]*entity.FolioRange
	nextTrack int64
	uploads   map[string]*devUpload
}

type devUpload struct {
	issuerRUT string
	polls     int
	rejected  bool
	counts    siipkg.UploadCounts
}

// NewDevGateway crea el simulador.
func NewDevGateway(cfg DevGatewayConfig, log zerolog.Logger) *DevGateway {
	if cfg.RangeSize <= 0 {
		cfg.RangeSize = 1000
	}
	if cfg.AcceptAfter <= 0 {
		cfg.AcceptAfter = 1
	}
	if cfg.CompanyName == "" {
		cfg.CompanyName = "EMPRESA DE DESARROLLO"
	}
	return &DevGateway{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		ranges:    make(map[string]*entity.FolioRange),
		nextTrack: 1000000000,
		uploads:   make(map[string]*devUpload),
	}
}

// FetchCAF devuelve un CAF sintético estable por emisor y tipo.
func (g *DevGateway) FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	k := fmt.Sprintf("%s|%d", issuerRUT, docType)
	if r, ok := g.ranges[k]; ok {
		return []*entity.FolioRange{r}, nil
	}
	if g.key == nil {
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		if err != nil {
			return nil, fmt.Errorf("dev: generar llave CAF: %w", err)
		}
		g.key = key
	}
	now := g.now()
	cafXML, err := SyntheticCAF(issuerRUT, g.cfg.CompanyName, docType, 1, g.cfg.RangeSize, now, g.key)
	if err != nil {
		return nil, fmt.Errorf("dev: armar CAF: %w", err)
	}
	r := &entity.FolioRange{
		IssuerRUT:    issuerRUT,
		DocumentType: docType,
		RangeStart:   1,
		RangeEnd:     g.cfg.RangeSize,
		AuthorizedAt: now,
		CAFXML:       cafXML,
	}
	if !siipkg.IsBoletaDocType(int(docType)) {
		r.ExpiresAt = now.Add(cafValidity)
	}
	g.ranges[k] = r
	g.log.Info().Str("issuer_rut", issuerRUT).Int("document_type", int(docType)).Int64("range_end", r.RangeEnd).Msg("CAF sintético generado")
	return []*entity.FolioRange{r}, nil
}

// SubmitDocument valida que el envío sea XML con al menos un Documento y asigna TrackID.
func (g *DevGateway) SubmitDocument(ctx context.Context, payload *ports.Payload) (*ports.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: envío vacío", domain.ErrRequestRejected)
	}
	x := etree.NewDocument()
	if err := x.ReadFromBytes(payload.XML); err != nil {
		return nil, fmt.Errorf("%w: XML ilegible: %w", domain.ErrRequestRejected, err)
	}
	if x.Root() == nil {
		return nil, fmt.Errorf("%w: envío sin elemento raíz", domain.ErrRequestRejected)
	}

	var counts siipkg.UploadCounts
	for _, d := range x.FindElements("//Documento") {
		counts.Informed++
		if d.FindElement(".//TED") == nil {
			counts.Rejected++
		} else {
			counts.Accepted++
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextTrack++
	trackID := fmt.Sprintf("%d", g.nextTrack)
	g.uploads[trackID] = &devUpload{
		issuerRUT: payload.IssuerRUT,
		rejected:  counts.Informed == 0,
		counts:    counts,
	}
	g.log.Debug().Str("document_id", payload.DocumentID).Str("track_id", trackID).Msg("dev: envío recibido")
	return &ports.SubmitResult{TrackID: trackID, Message: "Envío recibido (simulador)"}, nil
}

// QueryStatus REC hasta AcceptAfter consultas, luego EPR (o RSC si el envío era inválido).
// Un EPR con documentos rechazados se informa como rechazo.
func (g *DevGateway) QueryStatus(ctx context.Context, issuerRUT, trackID string) (*ports.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.uploads[trackID]
	if !ok || u.issuerRUT != issuerRUT {
		return nil, fmt.Errorf("%w: TrackID %s no existe", domain.ErrRequestRejected, trackID)
	}
	u.polls++
	switch {
	case u.polls <= g.cfg.AcceptAfter:
		return &ports.StatusResult{Status: ports.AuthorityProcessing, Code: siipkg.UploadStatusREC, Message: "Envío recibido"}, nil
	case u.rejected:
		return &ports.StatusResult{Status: ports.AuthorityRejected, Code: siipkg.UploadStatusRSC, Message: "Rechazado por error en schema"}, nil
	}
	status := ports.AuthorityAccepted
	if u.counts.Rejects() {
		status = ports.AuthorityRejected
	}
	msg := fmt.Sprintf("Envío procesado (informados %d, aceptados %d, rechazados %d, reparos %d)",
		u.counts.Informed, u.counts.Accepted, u.counts.Rejected, u.counts.Repairs)
	return &ports.StatusResult{Status: status, Code: siipkg.UploadStatusEPR, Message: msg}, nil
}

// SyntheticCAF arma un <AUTORIZACION> con la forma de los CAF del SII. La firma FRMA del
// SII no se puede reproducir y queda en blanco.
func SyntheticCAF(issuerRUT, companyName string, docType entity.DocumentType, from, to int64, authorizedAt time.Time, key *rsa.PrivateKey) (string, error) {
	x := etree.NewDocument()
	aut := x.CreateElement("AUTORIZACION")
	caf := aut.CreateElement("CAF")
	caf.CreateAttr("version", "1.0")
	da := caf.CreateElement("DA")
	text(da, "RE", issuerRUT)
	text(da, "RS", companyName)
	text(da, "TD", fmt.Sprintf("%d", docType))
	rng := da.CreateElement("RNG")
	text(rng, "D", fmt.Sprintf("%d", from))
	text(rng, "H", fmt.Sprintf("%d", to))
	text(da, "FA", authorizedAt.Format(dateLayout))
	rsapk := da.CreateElement("RSAPK")
	text(rsapk, "M", base64.StdEncoding.EncodeToString(key.N.Bytes()))
	text(rsapk, "E", base64.StdEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()))
	text(da, "IDK", "100")
	frma := caf.CreateElement("FRMA")
	frma.CreateAttr("algoritmo", "SHA1withRSA")

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", err
	}
	text(aut, "RSASK", string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})))
	text(aut, "RSAPUBK", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})))
	return x.WriteToString()
}
