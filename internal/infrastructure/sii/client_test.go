package sii_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/sii"
)

// fakeSII imita CrSeed, GetTokenFromSeed, DTEUpload y QueryEstUp.
type fakeSII struct {
	mu            sync.Mutex
	seeds         int
	uploads       int
	queries       int
	uploadStatus  []string // STATUS por upload; el último se repite
	estados       []string // ESTADO por consulta; el último se repite
	respBody      string   // RESP_BODY de QueryEstUp (vacío = sin detalle)
	failWith      int      // código HTTP para todas las llamadas (0 = normal)
	lastUpload    []byte
	lastFields    map[string]string
	lastCookie    string
	lastQueryBody string
}

func (f *fakeSII) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failWith != 0 {
			w.WriteHeader(f.failWith)
			return
		}
		switch r.URL.Path {
		case "/DTEWS/CrSeed.jws":
			f.seeds++
			writeSOAP(w, "getSeedReturn", `<SII:RESPUESTA xmlns:SII="http://www.sii.cl/XMLSchema"><SII:RESP_BODY><SEMILLA>000123456789</SEMILLA></SII:RESP_BODY><SII:RESP_HDR><ESTADO>00</ESTADO></SII:RESP_HDR></SII:RESPUESTA>`)
		case "/DTEWS/GetTokenFromSeed.jws":
			writeSOAP(w, "getTokenReturn", fmt.Sprintf(`<SII:RESPUESTA xmlns:SII="http://www.sii.cl/XMLSchema"><SII:RESP_BODY><TOKEN>TOKEN%d</TOKEN></SII:RESP_BODY><SII:RESP_HDR><ESTADO>00</ESTADO><GLOSA>Token Creado</GLOSA></SII:RESP_HDR></SII:RESPUESTA>`, f.seeds))
		case "/cgi_dte/UPL/DTEUpload":
			status := next(f.uploadStatus, f.uploads)
			f.uploads++
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			f.lastFields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				f.lastFields[k] = v[0]
			}
			if file, _, err := r.FormFile("archivo"); assert.NoError(t, err) {
				f.lastUpload, _ = io.ReadAll(file)
			}
			if c, err := r.Cookie("TOKEN"); err == nil {
				f.lastCookie = c.Value
			}
			fmt.Fprintf(w, `<?xml version="1.0" encoding="ISO-8859-1"?><RECEPCIONDTE><RUTSENDER>12345678-5</RUTSENDER><RUTCOMPANY>76086428-5</RUTCOMPANY><FILE>EnvioDTE.xml</FILE><TIMESTAMP>2026-03-10 15:04:05</TIMESTAMP><STATUS>%s</STATUS><TRACKID>%s</TRACKID></RECEPCIONDTE>`,
				status, map[bool]string{true: "0123456789", false: ""}[status == "0"])
		case "/DTEWS/QueryEstUp.jws":
			estado := next(f.estados, f.queries)
			f.queries++
			body, _ := io.ReadAll(r.Body)
			f.lastQueryBody = string(body)
			writeSOAP(w, "getEstUpReturn", fmt.Sprintf(`<SII:RESPUESTA xmlns:SII="http://www.sii.cl/XMLSchema"><SII:RESP_HDR><TRACKID>0123456789</TRACKID><ESTADO>%s</ESTADO><GLOSA>glosa %s</GLOSA></SII:RESP_HDR>%s</SII:RESPUESTA>`, estado, estado, f.respBody))
		default:
			http.NotFound(w, r)
		}
	})
}

func next(seq []string, i int) string {
	if len(seq) == 0 {
		return "0"
	}
	if i >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[i]
}

func writeSOAP(w http.ResponseWriter, returnTag, inner string) {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(`<?xml version="1.0" encoding="UTF-8"?>`+inner))
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"><soapenv:Body><ns1:resp xmlns:ns1="urn:sii"><%s xsi:type="xsd:string">%s</%s></ns1:resp></soapenv:Body></soapenv:Envelope>`,
		returnTag, escaped.String(), returnTag)
}

type stubSeedSigner struct{}

func (stubSeedSigner) SignSeed(seed string) ([]byte, error) {
	return []byte("<getToken><item><Semilla>" + seed + "</Semilla></item></getToken>"), nil
}

func newClient(t *testing.T, f *fakeSII, threshold int) *sii.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return sii.NewClient(sii.ClientConfig{
		BaseURL:          srv.URL,
		SenderRUT:        "12345678-5",
		Timeout:          2 * time.Second,
		TokenTTL:         time.Minute,
		BreakerThreshold: threshold,
		BreakerCooldown:  time.Hour,
		MaxConcurrent:    2,
	}, stubSeedSigner{}, nil, zerolog.Nop())
}

func payload() *ports.Payload {
	return &ports.Payload{
		DocumentID: "doc-1",
		IssuerRUT:  issuerRUT,
		FileName:   "EnvioDTE_33_1005.xml",
		XML:        []byte(`<?xml version="1.0" encoding="UTF-8"?><EnvioDTE><SetDTE ID="SetDoc"><RznSoc>PEÑALOLÉN</RznSoc></SetDTE></EnvioDTE>`),
	}
}

// ─── SubmitDocument ───────────────────────────────────────────────────────────

func TestSubmitDocument_SubeEnLatin1ConToken(t *testing.T) {
	f := &fakeSII{}
	c := newClient(t, f, 5)

	res, err := c.SubmitDocument(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", res.TrackID)

	assert.Equal(t, "TOKEN1", f.lastCookie)
	assert.Equal(t, "12345678", f.lastFields["rutSender"])
	assert.Equal(t, "5", f.lastFields["dvSender"])
	assert.Equal(t, "76086428", f.lastFields["rutCompany"])
	assert.Equal(t, "5", f.lastFields["dvCompany"])
	assert.Contains(t, string(f.lastUpload), `encoding="ISO-8859-1"`)
	assert.True(t, bytes.Contains(f.lastUpload, []byte{'P', 'E', 0xD1, 'A'}), "Ñ debe viajar como un byte ISO-8859-1")

	_, err = c.SubmitDocument(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, 1, f.seeds, "el token se reutiliza mientras esté vigente")
}

func TestSubmitDocument_BoletaNoVaADTEUpload(t *testing.T) {
	f := &fakeSII{}
	c := newClient(t, f, 5)
	p := payload()
	p.FileName = "EnvioBOLETA_39_7.xml"
	p.XML = []byte(`<?xml version="1.0" encoding="UTF-8"?><EnvioBOLETA><SetDTE ID="SetDoc"/></EnvioBOLETA>`)

	_, err := c.SubmitDocument(context.Background(), p)

	require.ErrorIs(t, err, domain.ErrRequestRejected)
	assert.Contains(t, err.Error(), "boleta electrónica")
	assert.Zero(t, f.uploads)
	assert.Zero(t, f.seeds)
}

func TestSubmitDocument_TokenVencidoSeRenueva(t *testing.T) {
	f := &fakeSII{uploadStatus: []string{"5", "0"}}
	c := newClient(t, f, 5)

	res, err := c.SubmitDocument(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", res.TrackID)
	assert.Equal(t, 2, f.seeds)
	assert.Equal(t, "TOKEN2", f.lastCookie)
}

func TestSubmitDocument_StatusDistintoDeCeroEsRechazo(t *testing.T) {
	f := &fakeSII{uploadStatus: []string{"7"}}
	c := newClient(t, f, 5)

	_, err := c.SubmitDocument(context.Background(), payload())
	require.ErrorIs(t, err, domain.ErrRequestRejected)
	assert.Contains(t, err.Error(), "esquema inválido")
	assert.Equal(t, sii.BreakerClosed, c.Breaker().State(), "un rechazo no es falla de transporte")
}

func TestSubmitDocument_CircuitBreakerAbreTrasFallas(t *testing.T) {
	f := &fakeSII{failWith: http.StatusServiceUnavailable}
	c := newClient(t, f, 2)

	for i := 0; i < 2; i++ {
		_, err := c.SubmitDocument(context.Background(), payload())
		require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	}
	assert.Equal(t, sii.BreakerOpen, c.Breaker().State())

	f.mu.Lock()
	f.failWith = 0
	f.mu.Unlock()
	_, err := c.SubmitDocument(context.Background(), payload())
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, sii.ErrBreakerOpen)
	assert.Equal(t, 0, f.seeds, "con el circuito abierto no se llama al SII")
}

func TestSubmitDocument_4xxEsRechazo(t *testing.T) {
	f := &fakeSII{failWith: http.StatusForbidden}
	c := newClient(t, f, 1)

	_, err := c.SubmitDocument(context.Background(), payload())
	assert.ErrorIs(t, err, domain.ErrRequestRejected)
	assert.Equal(t, sii.BreakerClosed, c.Breaker().State())
}

func TestSubmitDocument_ContextoCanceladoNoAbreCircuito(t *testing.T) {
	f := &fakeSII{}
	c := newClient(t, f, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SubmitDocument(ctx, payload())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, sii.BreakerClosed, c.Breaker().State())
}

func TestSubmitDocument_SinFirmadorNoHayToken(t *testing.T) {
	c := sii.NewClient(sii.ClientConfig{BaseURL: "http://127.0.0.1:1"}, nil, nil, zerolog.Nop())
	_, err := c.SubmitDocument(context.Background(), payload())
	assert.ErrorIs(t, err, domain.ErrRequestRejected)
}

// ─── QueryStatus ──────────────────────────────────────────────────────────────

func TestQueryStatus_MapeoDeEstados(t *testing.T) {
	cases := []struct {
		estado string
		want   ports.AuthorityStatus
	}{
		{"EPR", ports.AuthorityAccepted},
		{"RPR", ports.AuthorityAccepted},
		{"RCH", ports.AuthorityRejected},
		{"RCT", ports.AuthorityRejected},
		{"RFR", ports.AuthorityRejected},
		{"RCO", ports.AuthorityRejected},
		{"RSC", ports.AuthorityRejected},
		{"REC", ports.AuthorityProcessing},
		{"SOK", ports.AuthorityProcessing},
		{"FOK", ports.AuthorityProcessing},
		{"PRD", ports.AuthorityProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.estado, func(t *testing.T) {
			f := &fakeSII{estados: []string{tc.estado}}
			c := newClient(t, f, 5)
			res, err := c.QueryStatus(context.Background(), issuerRUT, "0123456789")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
			assert.Equal(t, tc.estado, res.Code)
			assert.Equal(t, "glosa "+tc.estado, res.Message)
		})
	}
}

func TestQueryStatus_EPRSegunContadores(t *testing.T) {
	body := func(groups ...string) string {
		return "<SII:RESP_BODY>" + strings.Join(groups, "") + "</SII:RESP_BODY>"
	}
	group := func(tipo string, informados, aceptados, rechazados, reparos int) string {
		return fmt.Sprintf("<TIPO_DOCTO>%s</TIPO_DOCTO><INFORMADOS>%d</INFORMADOS><ACEPTADOS>%d</ACEPTADOS><RECHAZADOS>%d</RECHAZADOS><REPAROS>%d</REPAROS>",
			tipo, informados, aceptados, rechazados, reparos)
	}
	cases := []struct {
		name     string
		respBody string
		want     ports.AuthorityStatus
		message  string
	}{
		{"todos aceptados", body(group("33", 1, 1, 0, 0)), ports.AuthorityAccepted, "glosa EPR (informados 1, aceptados 1, rechazados 0, reparos 0)"},
		{"aceptado con reparos", body(group("33", 1, 0, 0, 1)), ports.AuthorityAccepted, "glosa EPR (informados 1, aceptados 0, rechazados 0, reparos 1)"},
		{"rechazado", body(group("33", 1, 0, 1, 0)), ports.AuthorityRejected, "glosa EPR (informados 1, aceptados 0, rechazados 1, reparos 0)"},
		{"rechazo en otro tipo", body(group("33", 1, 1, 0, 0), group("61", 1, 0, 1, 0)), ports.AuthorityRejected, "glosa EPR (informados 2, aceptados 1, rechazados 1, reparos 0)"},
		{"sin detalle", "", ports.AuthorityAccepted, "glosa EPR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeSII{estados: []string{"EPR"}, respBody: tc.respBody}
			c := newClient(t, f, 5)
			res, err := c.QueryStatus(context.Background(), issuerRUT, "0123456789")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
			assert.Equal(t, "EPR", res.Code)
			assert.Equal(t, tc.message, res.Message)
		})
	}
}

func TestQueryStatus_ContadorNoNumerico(t *testing.T) {
	f := &fakeSII{estados: []string{"EPR"}, respBody: "<SII:RESP_BODY><RECHAZADOS>x</RECHAZADOS></SII:RESP_BODY>"}
	c := newClient(t, f, 5)
	_, err := c.QueryStatus(context.Background(), issuerRUT, "0123456789")
	assert.ErrorIs(t, err, domain.ErrRequestRejected)
}

func TestQueryStatus_EnviaRutYTrackID(t *testing.T) {
	f := &fakeSII{estados: []string{"EPR"}}
	c := newClient(t, f, 5)
	_, err := c.QueryStatus(context.Background(), issuerRUT, "0123456789")
	require.NoError(t, err)
	assert.True(t, strings.Contains(f.lastQueryBody, "<RutCompania>76086428</RutCompania>"))
	assert.True(t, strings.Contains(f.lastQueryBody, "<DvCompania>5</DvCompania>"))
	assert.True(t, strings.Contains(f.lastQueryBody, "<TrackId>0123456789</TrackId>"))
	assert.True(t, strings.Contains(f.lastQueryBody, "<Token>TOKEN1</Token>"))
}

func TestQueryStatus_TokenInvalidoSeRenueva(t *testing.T) {
	f := &fakeSII{estados: []string{"-3", "EPR"}}
	c := newClient(t, f, 5)
	res, err := c.QueryStatus(context.Background(), issuerRUT, "0123456789")
	require.NoError(t, err)
	assert.Equal(t, ports.AuthorityAccepted, res.Status)
	assert.Equal(t, 2, f.seeds)
}

func TestQueryStatus_RutInvalido(t *testing.T) {
	c := newClient(t, &fakeSII{}, 5)
	_, err := c.QueryStatus(context.Background(), "1-1", "0123456789")
	assert.ErrorIs(t, err, domain.ErrInvalidTaxpayer)
}
