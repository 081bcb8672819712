package domain

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Money is an amount in euro cents.
type Money int64

// Euros converts a float amount to Money, rounding to the nearest cent.
func Euros(v float64) Money {
	return Money(math.Round(v * 100))
}

func (m Money) Float() float64 { return float64(m) / 100 }

func (m Money) String() string { return strconv.FormatFloat(m.Float(), 'f', 2, 64) }

// WithVAT returns the VAT-inclusive amount for display. It is never stored.
func (m Money) WithVAT(rate float64) Money {
	return Money(math.Round(float64(m) * (1 + rate)))
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", string(data), err)
	}
	*m = Euros(v)
	return nil
}
