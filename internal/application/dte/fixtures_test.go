package dte_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/application/folio"
	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/cache"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/memory"
)

const (
	issuerRUT   = "76086428-5"
	receiverRUT = "12345678-5"
)

// fakeCAF entrega un único CAF configurable.
type fakeCAF struct {
	start, end int64
	calls      int
	mu         sync.Mutex
}

func (f *fakeCAF) FetchCAF(_ context.Context, issuer string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []*entity.FolioRange{{
		IssuerRUT: issuer, DocumentType: docType, RangeStart: f.start, RangeEnd: f.end,
		ExpiresAt: time.Now().Add(24 * time.Hour), CAFXML: "<CAF/>",
	}}, nil
}

// fakeGateway SII controlable desde el test.
type fakeGateway struct {
	mu        sync.Mutex
	submitFn  func(ctx context.Context) (*ports.SubmitResult, error)
	statusFn  func(trackID string) (*ports.StatusResult, error)
	submits   int
	queries   int
	nextTrack int
	lastFile  string
}

func (g *fakeGateway) FetchCAF(context.Context, string, entity.DocumentType) ([]*entity.FolioRange, error) {
	return nil, fmt.Errorf("no usado")
}

func (g *fakeGateway) SubmitDocument(ctx context.Context, p *ports.Payload) (*ports.SubmitResult, error) {
	g.mu.Lock()
	g.submits++
	g.lastFile = p.FileName
	fn := g.submitFn
	g.nextTrack++
	track := fmt.Sprintf("%010d", 4000000000+g.nextTrack)
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &ports.SubmitResult{TrackID: track, Message: "Envío recibido"}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _, trackID string) (*ports.StatusResult, error) {
	g.mu.Lock()
	g.queries++
	fn := g.statusFn
	g.mu.Unlock()
	if fn != nil {
		return fn(trackID)
	}
	return &ports.StatusResult{Status: ports.AuthorityProcessing, Code: "REC"}, nil
}

func (g *fakeGateway) setSubmit(fn func(ctx context.Context) (*ports.SubmitResult, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitFn = fn
}

func (g *fakeGateway) setStatus(fn func(trackID string) (*ports.StatusResult, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusFn = fn
}

func (g *fakeGateway) counts() (submits, queries int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits, g.queries
}

type fakeBuilder struct{}

func (fakeBuilder) Build(doc *entity.TaxDocument, caf *entity.FolioRange) ([]byte, error) {
	if !caf.Contains(doc.Folio) {
		return nil, fmt.Errorf("folio %d fuera del CAF", doc.Folio)
	}
	return []byte(fmt.Sprintf("<EnvioDTE folio=\"%d\"/>", doc.Folio)), nil
}

func (fakeBuilder) Timbre(doc *entity.TaxDocument, _ *entity.FolioRange) (string, error) {
	return fmt.Sprintf("<TED F=\"%d\"/>", doc.Folio), nil
}

type env struct {
	caf      *fakeCAF
	gateway  *fakeGateway
	docs     *memory.TaxDocumentRepo
	auth     *folio.Authority
	issue    *dte.IssueDocumentUseCase
	pipeline *dte.SubmissionPipeline
	tracker  *dte.StateTracker
}

func newEnv(start, end int64) *env {
	e := &env{
		caf:     &fakeCAF{start: start, end: end},
		gateway: &fakeGateway{},
		docs:    memory.NewTaxDocumentRepository(),
	}
	log := zerolog.Nop()
	e.auth = folio.NewAuthority(e.caf, memory.NewFolioRangeRepository(), e.docs, cache.NewCAFCache(), folio.Config{CacheTTL: time.Minute}, log)
	e.issue = dte.NewIssueDocumentUseCase(e.docs, e.auth, decimal.RequireFromString("0.19"), log)
	e.pipeline = dte.NewSubmissionPipeline(e.docs, e.auth, fakeBuilder{}, nil, e.gateway, log)
	e.tracker = dte.NewStateTracker(e.docs, e.gateway, 4, log)
	return e
}

func baseRequest() dto.IssueDocumentRequest {
	return dto.IssueDocumentRequest{
		DocumentType: 33,
		IssuerRUT:    "76.086.428-5",
		ReceiverRUT:  "12.345.678-5",
		ReceiverName: "Cliente de prueba SpA",
		IssueDate:    "2026-03-10",
		Items: []dto.LineItemRequest{{
			Description: "Asesoría contable marzo",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(10000),
		}},
	}
}

func (e *env) mustIssue(t *testing.T) *dto.DocumentResponse {
	t.Helper()
	doc, err := e.issue.Issue(context.Background(), baseRequest())
	require.NoError(t, err)
	return doc
}

func (e *env) stored(t *testing.T, id string) *entity.TaxDocument {
	t.Helper()
	doc, err := e.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}
