package model

import (
	"math/big"
	"strings"

	"github.com/rotisserie/eris"
)

// Price is an exact rational price value. Unit conversion multiplies by exact
// factors, so converting an already-canonical value is a no-op and repeated
// conversions never accumulate rounding drift.
type Price struct {
	rat big.Rat
}

// ParsePrice parses a decimal ("500", "5.25") or rational ("1/100") string.
func ParsePrice(s string) (Price, error) {
	var p Price
	s = strings.TrimSpace(s)
	if s == "" {
		return p, eris.New("price: empty value")
	}
	if _, ok := p.rat.SetString(s); !ok {
		return p, eris.Errorf("price: cannot parse %q", s)
	}
	return p, nil
}

// RatioPrice builds a price from an integer numerator and denominator.
func RatioPrice(num, den int64) Price {
	var p Price
	p.rat.SetFrac64(num, den)
	return p
}

// Mul returns p scaled by factor.
func (p Price) Mul(factor Price) Price {
	var out Price
	out.rat.Mul(&p.rat, &factor.rat)
	return out
}

// Cmp compares two prices: -1 if p < q, 0 if equal, +1 if p > q.
func (p Price) Cmp(q Price) int { return p.rat.Cmp(&q.rat) }

// Positive reports whether the price is strictly greater than zero.
func (p Price) Positive() bool { return p.rat.Sign() > 0 }

// Float64 returns an approximate float value for range checks and display.
func (p Price) Float64() float64 {
	f, _ := p.rat.Float64()
	return f
}

// String returns the exact reduced rational form ("5", "1/2"). This form
// round-trips through ParsePrice without loss, which the content fingerprint
// and the store rely on.
func (p Price) String() string { return p.rat.RatString() }

// Decimal renders the price with two decimal places for human output.
func (p Price) Decimal() string { return p.rat.FloatString(2) }

// MarshalJSON encodes the exact rational form.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.rat.RatString() + `"`), nil
}

// UnmarshalJSON decodes a decimal or rational string.
func (p *Price) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
