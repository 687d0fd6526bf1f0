// Package report records what a distribution run read, planned and sent.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ligun0805/batch-distributor/internal/distribution"
)

// Batch statuses.
const (
	StatusPlanned   = "planned"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type InvalidRow struct {
	Line    int    `json:"line"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

type BatchSummary struct {
	Index      int    `json:"index"`
	FirstEntry int    `json:"first_entry"` // 1-based, inclusive
	LastEntry  int    `json:"last_entry"`
	Size       int    `json:"size"`
	Nonce      uint64 `json:"nonce"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	TxHash     string `json:"tx_hash,omitempty"`
	Block      uint64 `json:"block,omitempty"`
	GasUsed    uint64 `json:"gas_used,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ResumeHint holds the parameters for rerunning after a halt.
type ResumeHint struct {
	StartOffset int    `json:"start_offset"`
	Nonce       uint64 `json:"nonce"`
}

type Report struct {
	RunID        string         `json:"run_id"`
	Command      string         `json:"command"`
	Contract     string         `json:"contract"`
	Sender       string         `json:"sender,omitempty"`
	ChainID      string         `json:"chain_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	RowsRead     int            `json:"rows_read"`
	ValidEntries int            `json:"valid_entries"`
	InvalidRows  []InvalidRow   `json:"invalid_rows"`
	BatchSize    int            `json:"batch_size,omitempty"`
	StartOffset  int            `json:"start_offset"`
	BaseNonce    uint64         `json:"base_nonce"`
	TotalAmount  string         `json:"total_amount"`
	State        string         `json:"state"`
	Batches      []BatchSummary `json:"batches"`
	HaltCause    string         `json:"halt_cause,omitempty"`
	Resume       *ResumeHint    `json:"resume,omitempty"`
}

func New(runID, command, contract string) *Report {
	return &Report{
		RunID:       runID,
		Command:     command,
		Contract:    contract,
		StartedAt:   time.Now().UTC(),
		InvalidRows: []InvalidRow{},
		Batches:     []BatchSummary{},
		TotalAmount: "0",
		State:       string(distribution.StatePending),
	}
}

// AddCollection records the row counts and the invalid-row ledger.
func (r *Report) AddCollection(c distribution.Collection) {
	r.RowsRead = c.Rows
	r.ValidEntries = len(c.Entries)
	r.InvalidRows = make([]InvalidRow, 0, len(c.Errors))
	for _, e := range c.Errors {
		r.InvalidRows = append(r.InvalidRows, InvalidRow{
			Line:    e.Line,
			Address: e.RawAddress,
			Amount:  e.RawAmount,
			Reason:  string(e.Reason),
			Detail:  e.Detail,
		})
	}
}

// AddPlan lists every planned batch with status planned.
func (r *Report) AddPlan(batches []distribution.Batch, batchSize, startOffset int) {
	r.BatchSize = batchSize
	r.StartOffset = startOffset
	if len(batches) > 0 {
		r.BaseNonce = batches[0].Nonce
	}
	total := new(big.Int)
	r.Batches = make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		amount := b.Total()
		total.Add(total, amount)
		r.Batches = append(r.Batches, BatchSummary{
			Index:      b.Index,
			FirstEntry: b.Start + 1,
			LastEntry:  b.End(),
			Size:       len(b.Entries),
			Nonce:      b.Nonce,
			Amount:     FormatUnits(amount),
			Status:     StatusPlanned,
		})
	}
	r.TotalAmount = FormatUnits(total)
}

// AddOutcome marks attempted batches with their chain result and the rest
// as skipped. AddPlan must have been called with the same batches.
func (r *Report) AddOutcome(o distribution.Outcome) {
	r.State = string(o.State)
	attempted := make(map[int]distribution.SubmissionResult, len(o.Results))
	for _, res := range o.Results {
		attempted[res.Batch.Index] = res
	}
	for i := range r.Batches {
		s := &r.Batches[i]
		res, ok := attempted[s.Index]
		if !ok {
			if o.State == distribution.StateHalted {
				s.Status = StatusSkipped
			}
			continue
		}
		s.Status = StatusFailed
		if res.Confirmed {
			s.Status = StatusConfirmed
		}
		if res.TxHash != (common.Hash{}) {
			s.TxHash = res.TxHash.Hex()
		}
		s.Block = res.BlockNumber
		s.GasUsed = res.GasUsed
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
	}
	if o.Err != nil {
		r.HaltCause = o.Err.Error()
	}
	if offset, nonce, ok := o.Resume(); ok {
		r.Resume = &ResumeHint{StartOffset: offset, Nonce: nonce}
	}
}

// Finish stamps the end time and sets the final state.
func (r *Report) Finish(state distribution.RunState) {
	r.State = string(state)
	r.FinishedAt = time.Now().UTC()
}

func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteInvalidRows writes the invalid-row ledger as CSV. The header is
// always written so an empty file means "no invalid rows".
func WriteInvalidRows(path string, errs []distribution.ValidationError) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"line", "address", "amount", "reason", "detail"})
	for _, e := range errs {
		_ = w.Write([]string{strconv.Itoa(e.Line), e.RawAddress, e.RawAmount, string(e.Reason), e.Detail})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Log prints the summary and one line per batch.
func (r *Report) Log(logger *zap.Logger) {
	logger.Info("run summary",
		zap.String("run_id", r.RunID),
		zap.String("command", r.Command),
		zap.String("state", r.State),
		zap.Int("rows_read", r.RowsRead),
		zap.Int("valid_entries", r.ValidEntries),
		zap.Int("invalid_rows", len(r.InvalidRows)),
		zap.Int("batches", len(r.Batches)),
		zap.String("total_amount", r.TotalAmount),
	)
	for _, b := range r.Batches {
		fields := []zap.Field{
			zap.Int("batch", b.Index+1),
			zap.Uint64("nonce", b.Nonce),
			zap.String("status", b.Status),
		}
		if b.Size > 0 {
			fields = append(fields,
				zap.String("entries", fmt.Sprintf("%d-%d", b.FirstEntry, b.LastEntry)),
				zap.String("amount", b.Amount),
			)
		}
		if b.TxHash != "" {
			fields = append(fields, zap.String("tx", b.TxHash))
		}
		logger.Info("batch", fields...)
	}
	if r.Resume != nil {
		logger.Warn("rerun hint",
			zap.Int("start_offset", r.Resume.StartOffset),
			zap.Uint64("base_nonce", r.Resume.Nonce),
			zap.String("cause", r.HaltCause),
		)
	}
}

// FormatUnits renders base units as a whole-token decimal string.
func FormatUnits(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -distribution.Decimals).String()
}
