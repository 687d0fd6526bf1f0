package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrSourceRead marks a failure of the underlying row source. Collection
// aborts on it and no partial entry list is returned.
var ErrSourceRead = errors.New("row source read failed")

// RowSource yields rows one at a time. Next returns io.EOF once the source is
// exhausted; any other error is a read failure.
type RowSource interface {
	Next(ctx context.Context) (RawRow, error)
}

// Collection is the validated view of one input file.
type Collection struct {
	Entries []Entry
	Errors  []ValidationError
	Rows    int
}

// Collect drains src through Validate. Invalid rows are ledgered and logged
// but never stop the scan.
func Collect(ctx context.Context, src RowSource, logger *zap.Logger) (Collection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var out Collection
	for {
		if err := ctx.Err(); err != nil {
			return Collection{}, err
		}
		row, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Collection{}, fmt.Errorf("%w after line %d: %w", ErrSourceRead, out.Rows, err)
		}
		out.Rows++

		entry, verr := Validate(row, out.Rows)
		if verr != nil {
			out.Errors = append(out.Errors, *verr)
			logger.Warn("invalid row",
				zap.Int("line", verr.Line),
				zap.String("address", verr.RawAddress),
				zap.String("amount", verr.RawAmount),
				zap.String("reason", string(verr.Reason)),
				zap.String("detail", verr.Detail),
			)
			continue
		}
		out.Entries = append(out.Entries, entry)
	}

	logger.Info("row processing completed",
		zap.Int("rows", out.Rows),
		zap.Int("valid", len(out.Entries)),
		zap.Int("invalid", len(out.Errors)),
	)
	if len(out.Errors) > 0 {
		logger.Warn("encountered invalid rows", zap.Int("count", len(out.Errors)))
	}
	return out, nil
}
