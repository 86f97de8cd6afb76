// Package money implementa la aritmética monetaria exacta para pesos chilenos (CLP).
// El CLP no tiene unidades fraccionarias: todo monto final se redondea a entero
// con redondeo "half-up" (0,5 sube). Los cálculos intermedios no se redondean.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CLPPlaces es la cantidad de decimales de la unidad mínima del peso chileno.
const CLPPlaces int32 = 0

// ErrInvalidInput se devuelve ante cantidades, precios o porcentajes fuera de dominio.
var ErrInvalidInput = errors.New("money: entrada inválida")

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// Round redondea al peso (half-up). Para montos negativos también sube hacia +∞
// en el empate, lo que mantiene la regla simétrica respecto al desplazamiento.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

// Percent convierte un porcentaje entero o decimal (19) en tasa (0.19).
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// ApplyRate multiplica el monto por la tasa y redondea una sola vez al peso.
func ApplyRate(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// NetFromGross separa un monto bruto (IVA incluido) en neto e impuesto.
// El bruto debe ser un monto entero en pesos. El neto se redondea y el impuesto se
// obtiene por diferencia, de modo que net + tax == gross siempre, sin fuga de redondeo.
func NetFromGross(gross, rate decimal.Decimal) (net, tax decimal.Decimal, err error) {
	if gross.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: monto bruto negativo (%s)", ErrInvalidInput, gross)
	}
	if rate.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: tasa negativa (%s)", ErrInvalidInput, rate)
	}
	if !gross.Equal(gross.Truncate(CLPPlaces)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: monto bruto con fracción de peso (%s)", ErrInvalidInput, gross)
	}
	net = Round(gross.Div(decimal.NewFromInt(1).Add(rate)))
	tax = gross.Sub(net)
	return net, tax, nil
}

// LineTotal calcula quantity × unitPrice × (1 − discountPercent/100) y redondea al final.
func LineTotal(quantity, unitPrice, discountPercent decimal.Decimal) (decimal.Decimal, error) {
	if quantity.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: cantidad negativa (%s)", ErrInvalidInput, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: precio unitario negativo (%s)", ErrInvalidInput, unitPrice)
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: descuento fuera de [0,100] (%s)", ErrInvalidInput, discountPercent)
	}
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return Round(quantity.Mul(unitPrice).Mul(factor)), nil
}

// Max devuelve el mayor de a y b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min devuelve el menor de a y b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FormatCLP formatea un monto con separador de miles chileno: 23800 → "$23.800".
func FormatCLP(d decimal.Decimal) string {
	s := Round(d).StringFixed(CLPPlaces)
	sign := ""
	if len(s) > 0 && s[0] == '-' {
		sign, s = "-", s[1:]
	}
	return sign + "$" + groupThousands(s)
}

// groupThousands inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "1000000" → "1.000.000"
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}
