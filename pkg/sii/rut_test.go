package sii_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// RUTs con dígito verificador calculado con el algoritmo oficial módulo 11.
var validRUTs = []string{
	"12.345.678-5",
	"12345678-5",
	"123456785",
	"60.803.000-K", // SII
	"60803000-k",
	"10.000.004-0",
	"1.000.005-K",
	"76.086.428-5",
	"5.126.663-3",
	"96790240-3",
}

func TestValidateRUT_Validos(t *testing.T) {
	for _, rut := range validRUTs {
		t.Run(rut, func(t *testing.T) {
			assert.True(t, sii.ValidateRUT(rut))
		})
	}
}

func TestValidateRUT_RechazaMutacionDelDV(t *testing.T) {
	checkChars := []byte("0123456789K")
	for _, rut := range validRUTs {
		body, dv, err := sii.SplitRUT(rut)
		require.NoError(t, err)
		for _, c := range checkChars {
			if c == dv {
				continue
			}
			mutated := body + "-" + string(c)
			assert.False(t, sii.ValidateRUT(mutated), "debe rechazar %s", mutated)
		}
	}
}

func TestValidateRUT_FormatoInvalido(t *testing.T) {
	for _, rut := range []string{
		"",
		"1-9",
		"123456-0",      // cuerpo de 6 dígitos
		"123456789-0",   // cuerpo de 9 dígitos
		"12.345.67A-5",  // letra en el cuerpo
		"12.345.678-X",  // DV imposible
		"12.345.678-55", // DV de dos caracteres
	} {
		assert.False(t, sii.ValidateRUT(rut), "debe rechazar %q", rut)
	}
}

func TestComputeRUTCheckDigit(t *testing.T) {
	tests := map[string]byte{
		"12345678": '5',
		"60803000": 'K',
		"10000004": '0',
		"1000005":  'K',
		"17345678": '6',
	}
	for body, want := range tests {
		got, err := sii.ComputeRUTCheckDigit(body)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), body)
	}
}

func TestFormatRUT(t *testing.T) {
	got, err := sii.FormatRUT("123456785")
	require.NoError(t, err)
	assert.Equal(t, "12.345.678-5", got)

	got, err = sii.FormatRUT("1000005-k")
	require.NoError(t, err)
	assert.Equal(t, "1.000.005-K", got)

	_, err = sii.FormatRUT("12.345.678-4")
	assert.ErrorIs(t, err, sii.ErrInvalidRUT)
}

func TestNormalizeRUT(t *testing.T) {
	got, err := sii.NormalizeRUT("60.803.000-k")
	require.NoError(t, err)
	assert.Equal(t, "60803000-K", got)

	_, err = sii.NormalizeRUT("60.803.000-1")
	assert.ErrorIs(t, err, sii.ErrInvalidRUT)
}
