package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "integer", input: "500", want: "500"},
		{name: "decimal", input: "5.25", want: "21/4"},
		{name: "rational", input: "1/100", want: "1/100"},
		{name: "whitespace", input: " 42 ", want: "42"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrice(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestPriceMulIsExact(t *testing.T) {
	p, err := ParsePrice("500")
	require.NoError(t, err)

	converted := p.Mul(RatioPrice(1, 100))
	assert.Equal(t, "5", converted.String())
	assert.Equal(t, "5.00", converted.Decimal())

	// Multiplying by the identity factor is a no-op, however often applied.
	identity := RatioPrice(1, 1)
	again := converted.Mul(identity).Mul(identity)
	assert.Equal(t, 0, converted.Cmp(again))
	assert.Equal(t, converted.String(), again.String())
}

func TestPriceOrdering(t *testing.T) {
	low, _ := ParsePrice("4.99")
	high, _ := ParsePrice("5")

	assert.Equal(t, -1, low.Cmp(high))
	assert.Equal(t, 1, high.Cmp(low))
	assert.True(t, high.Positive())

	zero, _ := ParsePrice("0")
	assert.False(t, zero.Positive())
	neg, _ := ParsePrice("-3")
	assert.False(t, neg.Positive())
}

func TestPriceJSONRoundTrip(t *testing.T) {
	p, err := ParsePrice("5.25")
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `"21/4"`, string(data))

	var back Price
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, p.Cmp(back))
}
