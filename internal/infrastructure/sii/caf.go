package sii

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	siipkg "github.com/jhoicas/sii-dte-api/pkg/sii"
)

// cafValidity vigencia de los CAF de facturas y notas desde su autorización.
// Los CAF de boletas no vencen.
const cafValidity = 6 * 30 * 24 * time.Hour

// ErrInvalidCAF el archivo no es un CAF del SII bien formado.
var ErrInvalidCAF = errors.New("sii: CAF inválido")

// CAFFile CAF leído desde el XML que entrega el SII.
type CAFFile struct {
	Range       *entity.FolioRange
	CompanyName string          // DA/RS
	PrivateKey  *rsa.PrivateKey // RSASK, firma el TED; nil si el archivo no la trae
}

type autorizacion struct {
	XMLName xml.Name `xml:"AUTORIZACION"`
	CAF     struct {
		DA struct {
			RE  string `xml:"RE"`
			RS  string `xml:"RS"`
			TD  int    `xml:"TD"`
			RNG struct {
				D int64 `xml:"D"`
				H int64 `xml:"H"`
			} `xml:"RNG"`
			FA string `xml:"FA"`
		} `xml:"DA"`
	} `xml:"CAF"`
	RSASK string `xml:"RSASK"`
}

var xmlDeclaration = regexp.MustCompile(`^\s*<\?xml[^>]*\?>\s*`)

// ParseCAF interpreta un archivo CAF. El SII los entrega en ISO-8859-1; el XML guardado
// en el rango queda en UTF-8 y sin declaración.
func ParseCAF(data []byte) (*CAFFile, error) {
	utf8, err := toUTF8(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCAF, err)
	}
	body := xmlDeclaration.ReplaceAllString(utf8, "")

	var a autorizacion
	if err := xml.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCAF, err)
	}
	da := a.CAF.DA
	issuer, err := siipkg.NormalizeRUT(da.RE)
	if err != nil {
		return nil, fmt.Errorf("%w: RE %q", ErrInvalidCAF, da.RE)
	}
	if !siipkg.IsKnownDocType(da.TD) {
		return nil, fmt.Errorf("%w: TD %d desconocido", ErrInvalidCAF, da.TD)
	}
	authorized, err := time.Parse("2006-01-02", strings.TrimSpace(da.FA))
	if err != nil {
		return nil, fmt.Errorf("%w: FA %q", ErrInvalidCAF, da.FA)
	}

	fr := &entity.FolioRange{
		IssuerRUT:    issuer,
		DocumentType: entity.DocumentType(da.TD),
		RangeStart:   da.RNG.D,
		RangeEnd:     da.RNG.H,
		AuthorizedAt: authorized,
		CAFXML:       body,
	}
	if !fr.Valid() {
		return nil, fmt.Errorf("%w: rango %d-%d", ErrInvalidCAF, da.RNG.D, da.RNG.H)
	}
	if !siipkg.IsBoletaDocType(da.TD) {
		fr.ExpiresAt = authorized.Add(cafValidity)
	}

	out := &CAFFile{Range: fr, CompanyName: strings.TrimSpace(da.RS)}
	if strings.TrimSpace(a.RSASK) != "" {
		key, err := parseRSAKey(a.RSASK)
		if err != nil {
			return nil, fmt.Errorf("%w: RSASK: %w", ErrInvalidCAF, err)
		}
		out.PrivateKey = key
	}
	return out, nil
}

func toUTF8(data []byte) (string, error) {
	head := strings.ToUpper(string(data[:min(len(data), 100)]))
	if !strings.Contains(head, "ISO-8859-1") && !strings.Contains(head, "ISO8859-1") {
		return string(data), nil
	}
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseRSAKey(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(s)))
	if block == nil {
		return nil, fmt.Errorf("PEM no encontrado")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("la llave no es RSA")
	}
	return key, nil
}

// CAFStore lee los CAF descargados desde el sitio del SII a un directorio.
// El SII no expone un servicio para pedir folios: los CAF se descargan a mano.
type CAFStore struct {
	dir string
	log zerolog.Logger
}

// NewCAFStore construye el store sobre dir.
func NewCAFStore(dir string, log zerolog.Logger) *CAFStore {
	return &CAFStore{dir: dir, log: log}
}

// LoadAll lee todos los *.xml del directorio. Los archivos inválidos se informan y se omiten.
func (s *CAFStore) LoadAll(ctx context.Context) ([]*CAFFile, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("listar CAF en %s: %w", s.dir, err)
	}
	var out []*CAFFile
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("leer CAF %s: %w", p, err)
		}
		caf, err := ParseCAF(data)
		if err != nil {
			s.log.Warn().Err(err).Str("file", filepath.Base(p)).Msg("CAF omitido")
			continue
		}
		out = append(out, caf)
	}
	return out, nil
}

// FetchCAF devuelve los rangos del emisor y tipo presentes en el directorio.
func (s *CAFStore) FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*entity.FolioRange
	for _, c := range all {
		if c.Range.IssuerRUT == issuerRUT && c.Range.DocumentType == docType {
			out = append(out, c.Range)
		}
	}
	return out, nil
}
