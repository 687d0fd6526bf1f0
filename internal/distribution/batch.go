package distribution

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrInvalidOffset    = errors.New("start offset must not be negative")
)

// Partition splits entries[startOffset:] into contiguous windows of batchSize.
// Only the last window may be shorter. Nonces are left unset.
func Partition(entries []Entry, batchSize, startOffset int) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if startOffset < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOffset, startOffset)
	}
	if startOffset >= len(entries) {
		return nil, nil
	}

	remaining := len(entries) - startOffset
	batches := make([]Batch, 0, (remaining+batchSize-1)/batchSize)
	for start := startOffset; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, Batch{
			Index:   len(batches),
			Start:   start,
			Entries: entries[start:end:end],
		})
	}
	return batches, nil
}

// CallBatches returns n entry-less batches, used for repeated no-argument
// contract calls that still need one nonce each.
func CallBatches(n int) []Batch {
	if n <= 0 {
		return nil
	}
	out := make([]Batch, n)
	for i := range out {
		out[i] = Batch{Index: i, Start: i}
	}
	return out
}

// AssignNonces returns a copy of batches where the i-th batch carries
// base+i. The input slice is not modified.
func AssignNonces(batches []Batch, base uint64) []Batch {
	out := make([]Batch, len(batches))
	for i, b := range batches {
		b.Nonce = base + uint64(i)
		out[i] = b
	}
	return out
}
