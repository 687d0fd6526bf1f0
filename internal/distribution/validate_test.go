package distribution

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0xAbC0000000000000000000000000000000000001"

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   *big.Int
	}{
		{"thousands separator and cents", "1,234.00", ether(1234)},
		{"plain integer", "5", ether(5)},
		{"fraction", "0.5", new(big.Int).Div(ether(1), big.NewInt(2))},
		{"zero", "0", big.NewInt(0)},
		{"eighteen decimals", "0.000000000000000001", big.NewInt(1)},
		{"surrounding spaces", "  7 ", ether(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, verr := Validate(RawRow{ColumnAddress: testAddr, ColumnAmount: tt.amount}, 1)
			require.Nil(t, verr)
			assert.Equal(t, 0, tt.want.Cmp(entry.Amount), "got %s", entry.Amount)
			assert.Equal(t, testAddr, entry.Text)
			assert.Equal(t, strings.ToLower(testAddr), strings.ToLower(entry.Address.Hex()))
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		address string
		amount  string
		reason  Reason
	}{
		{"missing address", "", "10", ReasonMissingField},
		{"missing amount", testAddr, "", ReasonMissingField},
		{"blank amount", testAddr, "   ", ReasonMissingField},
		{"no prefix", "AbC00000000000000000000000000000000000001x", "1", ReasonInvalidAddressFormat},
		{"short address", "0x1234", "1", ReasonInvalidAddressFormat},
		{"non hex address", "0xZZZ0000000000000000000000000000000000001", "1", ReasonInvalidAddressFormat},
		{"letters", testAddr, "ten", ReasonInvalidAmountFormat},
		{"negative", testAddr, "-5", ReasonInvalidAmountFormat},
		{"two decimal points", testAddr, "1.005.00", ReasonInvalidAmountFormat},
		{"trailing dot", testAddr, "5.", ReasonInvalidAmountFormat},
		{"too many decimals", testAddr, "0.0000000000000000001", ReasonAmountConversionError},
		{"overflow", testAddr, strings.Repeat("9", 80), ReasonAmountConversionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr := Validate(RawRow{ColumnAddress: tt.address, ColumnAmount: tt.amount}, 3)
			require.NotNil(t, verr)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Equal(t, 3, verr.Line)
			assert.Equal(t, tt.address, verr.RawAddress)
			assert.Equal(t, tt.amount, verr.RawAmount)
		})
	}
}

func TestValidateMissingColumns(t *testing.T) {
	_, verr := Validate(RawRow{"wallet": testAddr}, 9)
	require.NotNil(t, verr)
	assert.Equal(t, ReasonMissingField, verr.Reason)
	assert.Contains(t, verr.Error(), "line 9")
}

func TestNormalizeAmount(t *testing.T) {
	assert.Equal(t, "1234", NormalizeAmount("1,234.00"))
	assert.Equal(t, "1000000", NormalizeAmount("1,000,000"))
	assert.Equal(t, "1.5", NormalizeAmount("1.5"))
	assert.Equal(t, "1.005.00", NormalizeAmount("1.005.00"))
}
