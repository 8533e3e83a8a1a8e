package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromDecimalBankersRounding(t *testing.T) {
	// Half-to-even at the second decimal place.
	assert.Equal(t, Amount(1002), FromDecimal(decimal.RequireFromString("10.025")))
	assert.Equal(t, Amount(1004), FromDecimal(decimal.RequireFromString("10.035")))
	assert.Equal(t, Amount(1000000), FromDecimal(decimal.RequireFromString("10000")))
}

func TestParse(t *testing.T) {
	cases := map[string]Amount{
		"1500":     150000,
		"1500.5":   150050,
		"1,500.00": 150000,
		"0.01":     1,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := Parse("")
	assert.Error(t, err)
	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "KES 1,234.50", Amount(123450).Format("KES"))
	assert.Equal(t, "KES 0.05", Amount(5).Format("KES"))
	assert.Equal(t, "KES -12.00", Amount(-1200).Format("KES"))
	assert.Equal(t, "1,000,000.00", Amount(100000000).Format(""))
}
