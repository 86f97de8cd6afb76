// Package sii implementa el adaptador hacia el Servicio de Impuestos Internos:
// armado del EnvioDTE y del TED, firma XMLDSig, lectura de CAF y los servicios
// de autenticación, upload y consulta de estado.
package sii

import "encoding/xml"

// ── Ambientes ────────────────────────────────────────────────────────────────

const (
	hostCert = "https://maullin.sii.cl"
	hostProd = "https://palena.sii.cl"

	pathSeed     = "/DTEWS/CrSeed.jws"
	pathToken    = "/DTEWS/GetTokenFromSeed.jws"
	pathQueryEst = "/DTEWS/QueryEstUp.jws"
	pathUpload   = "/cgi_dte/UPL/DTEUpload"

	soapNS = "http://schemas.xmlsoap.org/soap/envelope/"
)

// BaseURL host del SII para el ambiente (cert o prod).
func BaseURL(env string) string {
	if env == "prod" {
		return hostProd
	}
	return hostCert
}

// ── Estados de respuesta ──────────────────────────────────────────────────────

const (
	// estadoOK respuesta correcta de CrSeed y GetTokenFromSeed.
	estadoOK = "00"
	// uploadStatusOK STATUS de RECEPCIONDTE cuando el envío fue recibido.
	uploadStatusOK = "0"
	// uploadStatusNoAuth STATUS cuando el token no es válido.
	uploadStatusNoAuth = "5"
)

// tokenErrorStates estados de QueryEstUp que indican token vencido o inválido.
var tokenErrorStates = map[string]bool{
	"-3":  true, // token no existe o expiró
	"001": true, // cookie inactiva
	"002": true, // token inactivo
	"003": true, // no existe token
}

// uploadStatusGlosa glosa de los STATUS de DTEUpload distintos de 0.
var uploadStatusGlosa = map[string]string{
	"1":  "el enviador no tiene permiso para enviar",
	"2":  "error en tamaño del archivo",
	"3":  "archivo cortado",
	"5":  "no está autenticado",
	"6":  "empresa no autorizada a enviar archivos",
	"7":  "esquema inválido",
	"8":  "firma del documento",
	"9":  "sistema bloqueado",
	"99": "error interno del SII",
}

// ── SOAP ─────────────────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XmlnsS  string   `xml:"xmlns:soapenv,attr"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Content any
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type getSeedRequest struct {
	XMLName xml.Name `xml:"getSeed"`
}

type getTokenRequest struct {
	XMLName xml.Name `xml:"getToken"`
	PszXML  string   `xml:"pszXml"`
}

type getEstUpRequest struct {
	XMLName     xml.Name `xml:"getEstUp"`
	RutCompania string   `xml:"RutCompania"`
	DvCompania  string   `xml:"DvCompania"`
	TrackID     string   `xml:"TrackId"`
	Token       string   `xml:"Token"`
}

// recepcionDTE respuesta del upload.
type recepcionDTE struct {
	XMLName    xml.Name `xml:"RECEPCIONDTE"`
	RutSender  string   `xml:"RUTSENDER"`
	RutCompany string   `xml:"RUTCOMPANY"`
	File       string   `xml:"FILE"`
	Timestamp  string   `xml:"TIMESTAMP"`
	Status     string   `xml:"STATUS"`
	TrackID    string   `xml:"TRACKID"`
}
