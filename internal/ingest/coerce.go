package ingest

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

var placeholders = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"null": {},
	"NULL": {},
	"-":    {},
}

func stripNoise(r rune) rune {
	if r == '$' || r == ',' || unicode.IsSpace(r) {
		return -1
	}
	return r
}

// Coerce turns a raw cell into a float64 when it looks like a number,
// the empty string when it is a placeholder, and otherwise returns token
// unchanged. Accepted numeric forms include "$1,234.56", "(12.50)" and "12%".
func Coerce(token string) any {
	s := strings.TrimSpace(token)
	if _, ok := placeholders[s]; ok {
		return ""
	}

	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = "-" + s[1:len(s)-1]
	}
	s = strings.Map(stripNoise, s)
	s = strings.TrimSuffix(s, "%")

	if !numberPattern.MatchString(s) {
		return token
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return token
	}
	return f
}

// CoerceValue normalizes an already-decoded cell: numbers become float64
// (non-finite ones become ""), strings go through Coerce.
func CoerceValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Coerce(x)
	case float64:
		return finiteOrEmpty(x)
	case float32:
		return finiteOrEmpty(float64(x))
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		return Coerce(x.String())
	case bool:
		return strconv.FormatBool(x)
	default:
		return v
	}
}

func finiteOrEmpty(f float64) any {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return ""
	}
	return f
}

// Number returns v as a float64 when it is numeric after coercion.
func Number(v any) (float64, bool) {
	f, ok := CoerceValue(v).(float64)
	return f, ok
}
