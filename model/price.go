package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultPrice is charged for products that carry no price.
var DefaultPrice = NewPrice(45)

// Price is a decimal amount that travels as a plain JSON number.
type Price struct {
	decimal.Decimal
}

// NewPrice converts a float amount into a Price.
func NewPrice(v float64) Price {
	return Price{Decimal: decimal.NewFromFloat(v)}
}

// ParsePrice parses a decimal string such as "12.50".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price{Decimal: d}, nil
}

// Times multiplies the price by a quantity.
func (p Price) Times(n int) Price {
	return Price{Decimal: p.Decimal.Mul(decimal.NewFromInt(int64(n)))}
}

// Plus adds two prices.
func (p Price) Plus(o Price) Price {
	return Price{Decimal: p.Decimal.Add(o.Decimal)}
}

func (p Price) String() string {
	return p.Decimal.StringFixed(2)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.String()), nil
}

// UnmarshalJSON accepts a number, a numeric string or null.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		p.Decimal = decimal.Zero
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			p.Decimal = decimal.Zero
			return nil
		}
		parsed, err := ParsePrice(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parse price %s: %w", data, err)
	}
	p.Decimal = d
	return nil
}
