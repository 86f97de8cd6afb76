package sii

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRUT se devuelve cuando el RUT no tiene formato válido o su dígito verificador no cuadra.
var ErrInvalidRUT = errors.New("sii: RUT inválido")

// rutWeights pesos del algoritmo módulo 11 del SII, aplicados al cuerpo de derecha a izquierda.
var rutWeights = [6]int{2, 3, 4, 5, 6, 7}

// ValidateRUT valida un RUT chileno ("12.345.678-5", "12345678-5" o "123456785").
// Acepta 7 u 8 dígitos de cuerpo más el dígito verificador (0-9 o K, sin distinguir mayúsculas).
func ValidateRUT(rut string) bool {
	body, dv, err := SplitRUT(rut)
	if err != nil {
		return false
	}
	expected, err := ComputeRUTCheckDigit(body)
	if err != nil {
		return false
	}
	return expected == dv
}

// ComputeRUTCheckDigit calcula el dígito verificador de un cuerpo numérico de RUT.
func ComputeRUTCheckDigit(body string) (byte, error) {
	if len(body) < 7 || len(body) > 8 {
		return 0, fmt.Errorf("%w: el cuerpo debe tener 7 u 8 dígitos, se recibieron %d", ErrInvalidRUT, len(body))
	}
	sum := 0
	for i := 0; i < len(body); i++ {
		c := body[len(body)-1-i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: carácter no numérico %q en el cuerpo", ErrInvalidRUT, c)
		}
		sum += int(c-'0') * rutWeights[i%len(rutWeights)]
	}
	switch r := 11 - sum%11; r {
	case 11:
		return '0', nil
	case 10:
		return 'K', nil
	default:
		return byte('0' + r), nil
	}
}

// SplitRUT quita separadores y devuelve cuerpo y dígito verificador (en mayúscula).
// No verifica el módulo 11; para eso está ValidateRUT.
func SplitRUT(rut string) (body string, dv byte, err error) {
	clean := stripSeparators(rut)
	if len(clean) < 8 || len(clean) > 9 {
		return "", 0, fmt.Errorf("%w: se esperaban 8 o 9 caracteres, se recibieron %d", ErrInvalidRUT, len(clean))
	}
	body = clean[:len(clean)-1]
	dv = clean[len(clean)-1]
	if dv == 'k' {
		dv = 'K'
	}
	if dv != 'K' && (dv < '0' || dv > '9') {
		return "", 0, fmt.Errorf("%w: dígito verificador %q", ErrInvalidRUT, dv)
	}
	for i := 0; i < len(body); i++ {
		if body[i] < '0' || body[i] > '9' {
			return "", 0, fmt.Errorf("%w: carácter no numérico %q en el cuerpo", ErrInvalidRUT, body[i])
		}
	}
	return body, dv, nil
}

// NormalizeRUT devuelve la forma compacta usada en XML y persistencia: "12345678-5".
func NormalizeRUT(rut string) (string, error) {
	if !ValidateRUT(rut) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRUT, rut)
	}
	body, dv, _ := SplitRUT(rut)
	return strings.TrimLeft(body, "0") + "-" + string(dv), nil
}

// FormatRUT devuelve la forma canónica con separador de miles: "12.345.678-5".
func FormatRUT(rut string) (string, error) {
	if !ValidateRUT(rut) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRUT, rut)
	}
	body, dv, _ := SplitRUT(rut)
	body = strings.TrimLeft(body, "0")
	n := len(body)
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteByte(body[i])
	}
	b.WriteByte('-')
	b.WriteByte(dv)
	return b.String(), nil
}

func stripSeparators(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
