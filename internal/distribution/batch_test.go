package distribution

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEntries(n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		addr := common.BigToAddress(big.NewInt(int64(i + 1)))
		out[i] = Entry{Address: addr, Text: addr.Hex(), Amount: big.NewInt(int64(i + 1))}
	}
	return out
}

func TestPartitionSizes(t *testing.T) {
	tests := []struct {
		entries, size, offset int
		want                  []int
	}{
		{1200, 500, 0, []int{500, 500, 200}},
		{1000, 500, 0, []int{500, 500}},
		{3, 500, 0, []int{3}},
		{1200, 500, 700, []int{500}},
		{1200, 500, 701, []int{499}},
		{10, 3, 2, []int{3, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d@%d", tt.entries, tt.size, tt.offset), func(t *testing.T) {
			entries := makeEntries(tt.entries)
			batches, err := Partition(entries, tt.size, tt.offset)
			require.NoError(t, err)

			sizes := make([]int, len(batches))
			next := tt.offset
			for i, b := range batches {
				sizes[i] = len(b.Entries)
				assert.Equal(t, i, b.Index)
				assert.Equal(t, next, b.Start)
				assert.Equal(t, entries[next].Address, b.Entries[0].Address)
				next = b.End()
			}
			assert.Equal(t, tt.want, sizes)
			assert.Equal(t, tt.entries, next)
			assert.Len(t, batches, (tt.entries-tt.offset+tt.size-1)/tt.size)
		})
	}
}

func TestPartitionEdges(t *testing.T) {
	entries := makeEntries(5)

	batches, err := Partition(entries, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, batches)

	batches, err = Partition(nil, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = Partition(entries, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = Partition(entries, 2, -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
}

func TestPartitionWindowsDoNotAlias(t *testing.T) {
	batches, err := Partition(makeEntries(4), 2, 0)
	require.NoError(t, err)
	first := append(batches[0].Entries, Entry{Text: "extra"})
	assert.Len(t, first, 3)
	assert.NotEqual(t, "extra", batches[1].Entries[0].Text)
}

func TestAssignNonces(t *testing.T) {
	batches, err := Partition(makeEntries(1200), 500, 0)
	require.NoError(t, err)

	seq := AssignNonces(batches, 10)
	require.Len(t, seq, 3)
	for i, b := range seq {
		assert.Equal(t, uint64(10+i), b.Nonce)
		assert.Zero(t, batches[i].Nonce, "input must not change")
	}
	assert.Empty(t, AssignNonces(nil, 4))
}

func TestCallBatches(t *testing.T) {
	seq := AssignNonces(CallBatches(3), 7)
	require.Len(t, seq, 3)
	for i, b := range seq {
		assert.Empty(t, b.Entries)
		assert.Equal(t, uint64(7+i), b.Nonce)
	}
	assert.Nil(t, CallBatches(0))
}

func TestBatchHelpers(t *testing.T) {
	b := Batch{Entries: makeEntries(3)}
	assert.Equal(t, int64(6), b.Total().Int64())
	assert.Len(t, b.Wallets(), 3)
	amounts := b.Amounts()
	amounts[0].SetInt64(100)
	assert.Equal(t, int64(1), b.Entries[0].Amount.Int64())
}
