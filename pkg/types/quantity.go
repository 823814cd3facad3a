package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Quantity is a numeric device or goal field. Older clients stored these as
// strings (or left them empty) so decoding accepts numbers, numeric strings and
// null. Anything else decodes as NaN and is treated as zero by consumers.
type Quantity float64

// Float returns the value as a float64, which may be NaN or Inf.
func (q Quantity) Float() float64 {
	return float64(q)
}

// Valid reports whether the quantity is a finite, non-negative number.
func (q Quantity) Valid() bool {
	f := float64(q)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*q = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*q = Quantity(math.NaN())
			return nil
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*q = 0
			return nil
		}
		// comma decimal separators show up in hand-entered values
		raw = strings.Replace(raw, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*q = Quantity(math.NaN())
		return nil
	}
	*q = Quantity(f)
	return nil
}

// MarshalJSON implements json.Marshaler. Non-finite values are written as null
// since JSON cannot represent them.
func (q Quantity) MarshalJSON() ([]byte, error) {
	f := float64(q)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}
