package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/batch-distributor/internal/distribution"
)

func drain(t *testing.T, src *Source) []distribution.RawRow {
	t.Helper()
	var rows []distribution.RawRow
	for {
		row, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestSourceCommaDelimited(t *testing.T) {
	in := "Address, Amount\n" +
		"0xabc0000000000000000000000000000000000001,\"1,234.00\"\n" +
		"\n" +
		"0xabc0000000000000000000000000000000000002,5\n"

	rows := drain(t, NewReader(strings.NewReader(in)))
	require.Len(t, rows, 2)
	assert.Equal(t, "1,234.00", rows[0]["amount"])
	assert.Equal(t, "0xabc0000000000000000000000000000000000002", rows[1]["address"])
}

func TestSourceSemicolonAndBOM(t *testing.T) {
	in := "\ufeffaddress;amount\n0x01;1,5\n"
	src := NewReader(strings.NewReader(in))
	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"address", "amount"}, src.Header())
	assert.Equal(t, "0x01", rows[0]["address"])
	assert.Equal(t, "1,5", rows[0]["amount"])
}

func TestSourceShortAndLongRecords(t *testing.T) {
	in := "address,amount\n0x01\n0x02,3,extra\n"
	rows := drain(t, NewReader(strings.NewReader(in)))
	require.Len(t, rows, 2)

	_, ok := rows[0]["amount"]
	assert.False(t, ok)
	assert.Equal(t, distribution.RawRow{"address": "0x02", "amount": "3"}, rows[1])
}

func TestSourceEmpty(t *testing.T) {
	assert.Empty(t, drain(t, NewReader(strings.NewReader(""))))
	assert.Empty(t, drain(t, NewReader(strings.NewReader("address,amount\n"))))
}

func TestSourceMalformed(t *testing.T) {
	src := NewReader(strings.NewReader("address,amount\n0x01,\"12\n"))
	_, err := src.Next(context.Background())
	var perr *csv.ParseError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, csv.ErrQuote)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("address,amount\n0x01,1\n"), 0o600))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Len(t, drain(t, src), 1)

	_, err = Open(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader(strings.NewReader("address,amount\n")).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
