package sii

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/cache"
	siipkg "github.com/jhoicas/sii-dte-api/pkg/sii"
)

var _ ports.TaxAuthorityGateway = (*Client)(nil)

// SeedSigner firma la semilla para obtener el token (XMLSigner).
type SeedSigner interface {
	SignSeed(seed string) ([]byte, error)
}

// CAFSource entrega los CAF del emisor (CAFStore).
type CAFSource interface {
	FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error)
}

// ClientConfig parámetros del cliente SII.
type ClientConfig struct {
	BaseURL          string // maullin o palena; en tests el httptest.Server
	SenderRUT        string // RUT del dueño del certificado (rutSender/dvSender)
	Timeout          time.Duration
	TokenTTL         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MaxConcurrent    int
}

// Client implementa ports.TaxAuthorityGateway contra los servicios del SII.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	signer     SeedSigner
	cafs       CAFSource
	tokens     *cache.TokenCache
	breaker    *CircuitBreaker
	limiter    *RequestLimiter
	log        zerolog.Logger
}

// NewClient construye el cliente. signer firma la semilla; sin él no hay token.
func NewClient(cfg ClientConfig, signer SeedSigner, cafs CAFSource, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 50 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		cafs:       cafs,
		tokens:     cache.NewTokenCache(),
		breaker:    NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		limiter:    NewRequestLimiter(cfg.MaxConcurrent),
		log:        log,
	}
}

// Breaker expone el circuit breaker (health y tests).
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// FetchCAF los CAF se descargan desde el sitio del SII; se leen del directorio configurado.
func (c *Client) FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	if c.cafs == nil {
		return nil, nil
	}
	return c.cafs.FetchCAF(ctx, issuerRUT, docType)
}

// ── SubmitDocument ────────────────────────────────────────────────────────────

// SubmitDocument sube el EnvioDTE en ISO-8859-1 y devuelve el TrackID. DTEUpload no
// recibe boletas: un EnvioBOLETA se rechaza sin llamar al SII.
// Un STATUS 5 (no autenticado) renueva el token y reintenta una vez.
func (c *Client) SubmitDocument(ctx context.Context, payload *ports.Payload) (*ports.SubmitResult, error) {
	if payload == nil || len(payload.XML) == 0 {
		return nil, fmt.Errorf("%w: envío vacío", domain.ErrRequestRejected)
	}
	if bytes.Contains(payload.XML, []byte("<"+EnvelopeBoleta)) {
		return nil, fmt.Errorf("%w: las boletas se envían por el servicio de boleta electrónica, no por DTEUpload", domain.ErrRequestRejected)
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	content, err := toLatin1(payload.XML)
	if err != nil {
		return nil, fmt.Errorf("%w: transcodificar envío: %w", domain.ErrRequestRejected, err)
	}

	var resp *recepcionDTE
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.upload(ctx, token, payload, content)
		if err != nil {
			return nil, err
		}
		if resp.Status != uploadStatusNoAuth {
			break
		}
		c.tokens.Clear()
	}

	if resp.Status != uploadStatusOK {
		glosa := uploadStatusGlosa[resp.Status]
		return nil, fmt.Errorf("%w: STATUS %s %s", domain.ErrRequestRejected, resp.Status, glosa)
	}
	if strings.TrimSpace(resp.TrackID) == "" {
		return nil, fmt.Errorf("%w: respuesta sin TRACKID", domain.ErrRequestRejected)
	}

	c.log.Info().Str("document_id", payload.DocumentID).Str("track_id", resp.TrackID).Msg("EnvioDTE recibido por el SII")
	return &ports.SubmitResult{TrackID: strings.TrimSpace(resp.TrackID), Message: "Envío recibido " + resp.Timestamp}, nil
}

func (c *Client) upload(ctx context.Context, token string, payload *ports.Payload, content []byte) (*recepcionDTE, error) {
	senderBody, senderDV, err := siipkg.SplitRUT(c.sender(payload.IssuerRUT))
	if err != nil {
		return nil, fmt.Errorf("%w: RUT enviador: %w", domain.ErrRequestRejected, err)
	}
	companyBody, companyDV, err := siipkg.SplitRUT(payload.IssuerRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT empresa: %w", domain.ErrRequestRejected, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"rutSender", senderBody},
		{"dvSender", string(senderDV)},
		{"rutCompany", companyBody},
		{"dvCompany", string(companyDV)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("archivo", payload.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pathUpload, &body)
	if err != nil {
		return nil, fmt.Errorf("sii: crear request upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "Mozilla/4.0 (compatible; PROG 1.0; sii-dte-api)")
	req.AddCookie(&http.Cookie{Name: "TOKEN", Value: token})

	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp recepcionDTE
	if err := xml.Unmarshal(trimDeclaration(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: respuesta de upload ilegible: %w", domain.ErrRequestRejected, err)
	}
	resp.Status = strings.TrimSpace(resp.Status)
	return &resp, nil
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

// QueryStatus consulta QueryEstUp. RPR aceptado, RCH/RCT/RFR/RCO/RSC rechazado, el resto
// en proceso. EPR se resuelve con los contadores de RESP_BODY: cualquier RECHAZADOS rechaza
// el envío. Un estado de token inválido renueva el token y reintenta una vez.
func (c *Client) QueryStatus(ctx context.Context, issuerRUT, trackID string) (*ports.StatusResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	body, dv, err := siipkg.SplitRUT(issuerRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTaxpayer, err)
	}

	var (
		estado, glosa string
		resp          *etree.Document
	)
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.soap(ctx, pathQueryEst, getEstUpRequest{
			RutCompania: body,
			DvCompania:  string(dv),
			TrackID:     trackID,
			Token:       token,
		}, "getEstUpReturn")
		if err != nil {
			return nil, err
		}
		estado = elementText(resp, "ESTADO")
		glosa = elementText(resp, "GLOSA")
		if !tokenErrorStates[estado] {
			break
		}
		c.tokens.Clear()
	}

	switch {
	case tokenErrorStates[estado]:
		return nil, fmt.Errorf("%w: token rechazado (%s %s)", domain.ErrRequestRejected, estado, glosa)
	case estado == "":
		return nil, fmt.Errorf("%w: respuesta sin ESTADO", domain.ErrRequestRejected)
	}

	status := ports.AuthorityProcessing
	switch {
	case estado == siipkg.UploadStatusEPR:
		status = ports.AuthorityAccepted
		counts, ok, err := uploadCounts(resp)
		if err != nil {
			return nil, err
		}
		if ok {
			if counts.Rejects() {
				status = ports.AuthorityRejected
			}
			glosa = fmt.Sprintf("%s (informados %d, aceptados %d, rechazados %d, reparos %d)",
				glosa, counts.Informed, counts.Accepted, counts.Rejected, counts.Repairs)
		}
	case siipkg.AcceptedUploadStatuses[estado]:
		status = ports.AuthorityAccepted
	case siipkg.RejectedUploadStatuses[estado]:
		status = ports.AuthorityRejected
	}
	return &ports.StatusResult{Status: status, Code: estado, Message: glosa}, nil
}

// uploadCounts suma los contadores de cada TIPO_DOCTO del RESP_BODY. ok es false si la
// respuesta no trae detalle.
func uploadCounts(doc *etree.Document) (siipkg.UploadCounts, bool, error) {
	var counts siipkg.UploadCounts
	found := false
	fields := []struct {
		tag string
		dst *int
	}{
		{"INFORMADOS", &counts.Informed},
		{"ACEPTADOS", &counts.Accepted},
		{"RECHAZADOS", &counts.Rejected},
		{"REPAROS", &counts.Repairs},
	}
	for _, f := range fields {
		for _, el := range doc.FindElements("//" + f.tag) {
			n, err := strconv.Atoi(strings.TrimSpace(el.Text()))
			if err != nil {
				return counts, false, fmt.Errorf("%w: %s no numérico (%q)", domain.ErrRequestRejected, f.tag, el.Text())
			}
			*f.dst += n
			found = true
		}
	}
	return counts, found, nil
}

// ── Autenticación: semilla → firma → token ───────────────────────────────────

func (c *Client) token(ctx context.Context) (string, error) {
	if t, ok := c.tokens.Get(); ok {
		return t, nil
	}
	if c.signer == nil {
		return "", fmt.Errorf("%w: sin certificado para autenticarse", domain.ErrRequestRejected)
	}

	seedResp, err := c.soap(ctx, pathSeed, getSeedRequest{}, "getSeedReturn")
	if err != nil {
		return "", err
	}
	if estado := elementText(seedResp, "ESTADO"); estado != estadoOK {
		return "", fmt.Errorf("%w: CrSeed ESTADO %s", domain.ErrRequestRejected, estado)
	}
	seed := elementText(seedResp, "SEMILLA")

	signed, err := c.signer.SignSeed(seed)
	if err != nil {
		return "", fmt.Errorf("sii: firmar semilla: %w", err)
	}
	tokenResp, err := c.soap(ctx, pathToken, getTokenRequest{PszXML: string(signed)}, "getTokenReturn")
	if err != nil {
		return "", err
	}
	if estado := elementText(tokenResp, "ESTADO"); estado != estadoOK {
		return "", fmt.Errorf("%w: GetTokenFromSeed ESTADO %s %s", domain.ErrRequestRejected, estado, elementText(tokenResp, "GLOSA"))
	}
	token := elementText(tokenResp, "TOKEN")
	if token == "" {
		return "", fmt.Errorf("%w: respuesta sin TOKEN", domain.ErrRequestRejected)
	}
	c.tokens.Set(token, c.cfg.TokenTTL)
	c.log.Debug().Msg("token SII renovado")
	return token, nil
}

// ── Transporte ───────────────────────────────────────────────────────────────

// soap llama una operación .jws y devuelve el XML interno de <returnTag> ya parseado.
func (c *Client) soap(ctx context.Context, path string, body any, returnTag string) (*etree.Document, error) {
	payload, err := xml.Marshal(soapEnvelope{XmlnsS: soapNS, Body: soapBody{Content: body}})
	if err != nil {
		return nil, fmt.Errorf("sii: serializar envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sii: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	envelope := etree.NewDocument()
	if err := envelope.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: respuesta SOAP ilegible: %w", domain.ErrRequestRejected, err)
	}
	if fault := envelope.FindElement("//Fault"); fault != nil {
		return nil, fmt.Errorf("%w: SOAP Fault %s", domain.ErrRequestRejected, elementText(envelope, "faultstring"))
	}
	ret := envelope.FindElement("//" + returnTag)
	if ret == nil {
		return nil, fmt.Errorf("%w: respuesta sin %s", domain.ErrRequestRejected, returnTag)
	}
	inner := etree.NewDocument()
	if err := inner.ReadFromString(string(trimDeclaration([]byte(ret.Text())))); err != nil {
		return nil, fmt.Errorf("%w: %s ilegible: %w", domain.ErrRequestRejected, returnTag, err)
	}
	return inner, nil
}

// do ejecuta el request bajo el circuit breaker. Las fallas de red y los 5xx cuentan
// para abrir el circuito; los 4xx son rechazos de la solicitud.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	var raw []byte
	var rejected error
	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			rejected = fmt.Errorf("%w: HTTP %d", domain.ErrRequestRejected, resp.StatusCode)
			return nil
		}
		raw = body
		return nil
	})
	switch {
	case errors.Is(err, ErrBreakerOpen):
		c.log.Warn().Str("path", req.URL.Path).Msg("circuit breaker abierto, sin llamar al SII")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn().Err(err).Str("path", req.URL.Path).Str("breaker", c.breaker.State().String()).Msg("falla de transporte con el SII")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	case rejected != nil:
		return nil, rejected
	}
	return raw, nil
}

func (c *Client) sender(issuerRUT string) string {
	if c.cfg.SenderRUT != "" {
		return c.cfg.SenderRUT
	}
	return issuerRUT
}

// toLatin1 transcodifica el XML UTF-8 a ISO-8859-1 y ajusta la declaración.
// Los caracteres sin representación se reemplazan.
func toLatin1(utf8XML []byte) ([]byte, error) {
	src := bytes.Replace(utf8XML, []byte(`encoding="UTF-8"`), []byte(`encoding="ISO-8859-1"`), 1)
	return encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()).Bytes(src)
}

func trimDeclaration(b []byte) []byte {
	return []byte(xmlDeclaration.ReplaceAllString(string(b), ""))
}

func elementText(doc *etree.Document, tag string) string {
	if el := doc.FindElement("//" + tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}
