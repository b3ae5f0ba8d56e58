package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric is a lenient JSON number. It accepts any JSON value, remembers
// whether that value was a number (or a numeric string), and writes the
// original text back when it was not, so malformed history entries survive
// a round trip untouched.
type Numeric struct {
	value decimal.Decimal
	raw   json.RawMessage
	valid bool
}

func NumericOf(d decimal.Decimal) Numeric {
	return Numeric{value: d, valid: true}
}

func NumericInt(n int64) Numeric {
	return NumericOf(decimal.NewFromInt(n))
}

// InvalidNumeric builds a non-numeric value holding s as a JSON string.
func InvalidNumeric(s string) Numeric {
	raw, _ := json.Marshal(s)
	return Numeric{raw: raw}
}

func (n Numeric) Decimal() (decimal.Decimal, bool) {
	return n.value, n.valid
}

func (n Numeric) MarshalJSON() ([]byte, error) {
	if n.valid {
		return []byte(n.value.String()), nil
	}
	if len(n.raw) == 0 {
		return []byte("null"), nil
	}
	return n.raw, nil
}

func (n *Numeric) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*n = Numeric{raw: append(json.RawMessage(nil), trimmed...)}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	text := string(trimmed)
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil
	}
	n.value = d
	n.valid = true
	return nil
}
