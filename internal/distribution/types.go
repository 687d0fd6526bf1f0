package distribution

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RawRow is one record from the row source keyed by column name.
type RawRow map[string]string

// Column names the validator reads from a RawRow.
const (
	ColumnAddress = "address"
	ColumnAmount  = "amount"
)

// Entry is a validated (recipient, amount) pair ready for submission.
type Entry struct {
	Address common.Address
	Text    string   // address as supplied, case preserved
	Amount  *big.Int // base units (wei scale)
}

// Reason enumerates why a row was rejected.
type Reason string

const (
	ReasonMissingField          Reason = "MissingField"
	ReasonInvalidAddressFormat  Reason = "InvalidAddressFormat"
	ReasonInvalidAmountFormat   Reason = "InvalidAmountFormat"
	ReasonAmountConversionError Reason = "AmountConversionError"
)

// ValidationError records a rejected row. It is a value: once appended to
// the ledger it is never changed.
type ValidationError struct {
	Line       int
	RawAddress string
	RawAmount  string
	Reason     Reason
	Detail     string
}

func (e ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, e.Detail)
}

// Batch is a contiguous window of entries submitted as one contract call.
type Batch struct {
	Index   int // position in the partitioned sequence
	Start   int // offset of Entries[0] in the full entry list
	Entries []Entry
	Nonce   uint64
}

// End returns the exclusive end offset of the batch in the full entry list.
func (b Batch) End() int { return b.Start + len(b.Entries) }

// Total sums the batch amounts.
func (b Batch) Total() *big.Int {
	sum := new(big.Int)
	for _, e := range b.Entries {
		if e.Amount != nil {
			sum.Add(sum, e.Amount)
		}
	}
	return sum
}

// Wallets and Amounts split the batch into the two parallel arrays the
// distribution contract expects.
func (b Batch) Wallets() []common.Address {
	out := make([]common.Address, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Address
	}
	return out
}

func (b Batch) Amounts() []*big.Int {
	out := make([]*big.Int, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = new(big.Int).Set(e.Amount)
	}
	return out
}

// SubmissionResult is the outcome of one batch on chain.
type SubmissionResult struct {
	Batch       Batch
	TxHash      common.Hash
	Confirmed   bool
	BlockNumber uint64
	GasUsed     uint64
	Err         error
}
