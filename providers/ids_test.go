package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDOI(t *testing.T) {
	cases := map[string]string{
		"10.1000/ABC":                 "10.1000/abc",
		"https://doi.org/10.1/x":      "10.1/x",
		"doi:10.5555/12345678.":       "10.5555/12345678",
		"DOI: 10.5555/abc":            "10.5555/abc",
		"  https://dx.doi.org/10.1/y": "10.1/y",
		"10.1/has space":              "",
		"ISBN 978-3":                  "",
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDOI(in), in)
	}
}

func TestNormalizePMID(t *testing.T) {
	assert.Equal(t, "12345", NormalizePMID(" 12345 "))
	assert.Equal(t, "12345", NormalizePMID("PMID: 12345"))
	assert.Equal(t, "", NormalizePMID("PMC12345"))
	assert.Equal(t, "", NormalizePMID("1234567890"))
}
