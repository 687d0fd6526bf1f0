package distribution

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the unit scaling applied to human-readable amounts.
const Decimals = 18

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Validate turns one raw row into an Entry. Rules run in order and the first
// failure wins; the function has no side effects.
func Validate(row RawRow, line int) (Entry, *ValidationError) {
	rawAddr, rawAmount := row[ColumnAddress], row[ColumnAmount]
	reject := func(reason Reason, detail string) (Entry, *ValidationError) {
		return Entry{}, &ValidationError{
			Line:       line,
			RawAddress: rawAddr,
			RawAmount:  rawAmount,
			Reason:     reason,
			Detail:     detail,
		}
	}

	addr, amount := strings.TrimSpace(rawAddr), strings.TrimSpace(rawAmount)
	if addr == "" || amount == "" {
		return reject(ReasonMissingField, "missing address or amount")
	}

	if !strings.HasPrefix(addr, "0x") || len(addr) != 2+2*common.AddressLength {
		return reject(ReasonInvalidAddressFormat, "expected 0x-prefixed 42-character address")
	}
	if !common.IsHexAddress(addr) {
		return reject(ReasonInvalidAddressFormat, "address contains non-hex characters")
	}

	cleaned := NormalizeAmount(amount)
	if !amountPattern.MatchString(cleaned) {
		return reject(ReasonInvalidAmountFormat, fmt.Sprintf("%q is not an unsigned decimal", cleaned))
	}

	wei, err := ToBaseUnits(cleaned)
	if err != nil {
		return reject(ReasonAmountConversionError, err.Error())
	}

	return Entry{Address: common.HexToAddress(addr), Text: addr, Amount: wei}, nil
}

// NormalizeAmount strips thousands separators and a redundant trailing ".00".
// The suffix is only removed when it is the sole decimal point, so inputs
// like "1.005.00" stay malformed.
func NormalizeAmount(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	if strings.Count(s, ".") == 1 && strings.HasSuffix(s, ".00") {
		s = strings.TrimSuffix(s, ".00")
	}
	return s
}

// ToBaseUnits scales a normalized decimal string by 10^18. Amounts that need
// more than 18 fractional digits or do not fit in uint256 are rejected.
func ToBaseUnits(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", s, Decimals)
	}
	wei := scaled.BigInt()
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, fmt.Errorf("amount %s overflows uint256", s)
	}
	return wei, nil
}
