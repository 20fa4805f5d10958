package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  any
	}{
		{"currency with thousands", "$1,234.56", 1234.56},
		{"accounting negative", "(123.45)", -123.45},
		{"percent", "12%", 12.0},
		{"placeholder N/A", "N/A", ""},
		{"placeholder NA", "NA", ""},
		{"placeholder null", "null", ""},
		{"placeholder NULL", "NULL", ""},
		{"placeholder dash", "-", ""},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"text with digits stays", "abc123", "abc123"},
		{"plain integer", "42", 42.0},
		{"negative decimal", "-0.5", -0.5},
		{"padded", "  7.25 ", 7.25},
		{"negative currency", "-$5.00", -5.0},
		{"parenthesized currency", "($1,000)", -1000.0},
		{"date is text", "2024-01-05", "2024-01-05"},
		{"double percent is text", "5%%", "5%%"},
		{"exponent is text", "1e5", "1e5"},
		{"leading dot is text", ".5", ".5"},
		{"keeps original spacing when not numeric", " $ abc ", " $ abc "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.token))
		})
	}
}

func TestCoerce_IdempotentOnNumbers(t *testing.T) {
	for _, token := range []string{"$1,234.56", "(9.99)", "15%", "0", "-3"} {
		first, ok := Coerce(token).(float64)
		if !assert.True(t, ok, token) {
			continue
		}
		again := Coerce(strconv.FormatFloat(first, 'f', -1, 64))
		assert.Equal(t, first, again, token)
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"finite float", 3.5, 3.5},
		{"positive infinity", math.Inf(1), ""},
		{"nan", math.NaN(), ""},
		{"int", 7, 7.0},
		{"json number plain", json.Number("12"), 12.0},
		{"nil", nil, ""},
		{"string", "$3", 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceValue(tt.in))
		})
	}
}

func TestNumber(t *testing.T) {
	v, ok := Number("$2.50")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok = Number("n/a text")
	assert.False(t, ok)
}
