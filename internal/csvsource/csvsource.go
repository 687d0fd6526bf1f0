// Package csvsource reads distribution rows from a delimited text file.
package csvsource

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ligun0805/batch-distributor/internal/distribution"
)

const peekSize = 64 << 10

// Source yields one distribution.RawRow per data record, keyed by the
// lower-cased header names.
type Source struct {
	reader *csv.Reader
	closer io.Closer
	header []string
}

// Open opens path for reading. The caller closes the Source.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	src := NewReader(f)
	src.closer = f
	return src, nil
}

// NewReader wraps r. The header is read lazily on the first Next; input
// without one is treated as empty.
func NewReader(r io.Reader) *Source {
	br := bufio.NewReaderSize(r, peekSize)
	head, _ := br.Peek(peekSize)

	reader := csv.NewReader(br)
	reader.Comma = detectDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return &Source{reader: reader}
}

// Header returns the normalized column names, or nil before the first Next.
func (s *Source) Header() []string { return s.header }

// Next returns the next data row or io.EOF. Short records yield maps without
// the missing columns; extra fields are dropped.
func (s *Source) Next(ctx context.Context) (distribution.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.header == nil {
		if err := s.readHeader(); err != nil {
			return nil, err
		}
	}

	for {
		rec, err := s.reader.Read()
		if err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		row := make(distribution.RawRow, len(s.header))
		for i, name := range s.header {
			if i >= len(rec) {
				break
			}
			if name != "" {
				row[name] = rec[i]
			}
		}
		return row, nil
	}
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Source) readHeader() error {
	for {
		rec, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if blank(rec) {
			continue
		}
		header := make([]string, len(rec))
		for i, name := range rec {
			if i == 0 {
				name = strings.TrimPrefix(name, "\ufeff")
			}
			header[i] = strings.ToLower(strings.TrimSpace(name))
		}
		s.header = header
		return nil
	}
}

// detectDelimiter looks at the first non-empty line: semicolons without
// commas switch the reader to ';'.
func detectDelimiter(data []byte) rune {
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if strings.Contains(l, ";") && !strings.Contains(l, ",") {
			return ';'
		}
		break
	}
	return ','
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
