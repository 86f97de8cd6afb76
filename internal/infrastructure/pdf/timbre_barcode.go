package pdf

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/pdf417"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	// timbreSecurityLevel nivel de corrección de errores exigido por el SII para el timbre.
	timbreSecurityLevel = 5
	timbreModuleScale   = 2
)

// TimbreBarcode codifica el TED en PDF417 (ISO-8859-1, nivel de seguridad 5) y lo
// devuelve como PNG.
func TimbreBarcode(timbre string) ([]byte, error) {
	latin1, err := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()).String(timbre)
	if err != nil {
		return nil, fmt.Errorf("pdf: transcodificar timbre: %w", err)
	}
	bc, err := pdf417.Encode(latin1, timbreSecurityLevel)
	if err != nil {
		return nil, fmt.Errorf("pdf: codificar PDF417: %w", err)
	}
	b := bc.Bounds()
	scaled, err := barcode.Scale(bc, b.Dx()*timbreModuleScale, b.Dy()*timbreModuleScale)
	if err != nil {
		return nil, fmt.Errorf("pdf: escalar PDF417: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("pdf: PNG del timbre: %w", err)
	}
	return buf.Bytes(), nil
}
