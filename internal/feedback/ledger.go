package feedback

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrLedgerWrite is the sentinel wrapped by every LedgerWriteError.
var ErrLedgerWrite = errors.New("feedback ledger write failed")

// LedgerWriteError reports a failure to durably append a record.
type LedgerWriteError struct {
	Path string
	Err  error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("writing feedback ledger %s: %v", e.Path, e.Err)
}

func (e *LedgerWriteError) Unwrap() []error { return []error{ErrLedgerWrite, e.Err} }

var header = []string{"input", "query", "verdict", "comment", "timestamp"}

// Ledger is an append-only CSV file of feedback records. Appends from one
// process are serialised; rows are never rewritten.
type Ledger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

func (l *Ledger) Path() string { return l.path }

// Append validates r and writes it as one row, creating the file (with a
// header) on first use. The write is fsynced before Append returns.
func (l *Ledger) Append(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v, _ := ParseVerdict(string(r.Verdict))
	ts := r.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	row := []string{r.Input, r.Query, string(v), r.Comment, ts.UTC().Format(time.RFC3339)}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(row); err != nil {
		return &LedgerWriteError{Path: l.path, Err: err}
	}
	return nil
}

func (l *Ledger) write(row []string) error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// Records reads every row of the ledger in file order. A missing ledger has
// no records. Columns are located by header name, so files written with the
// older "feedback" column in place of "verdict" are read as well.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening feedback ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger header: %w", err)
	}
	cols := columnIndex(head)

	records := []Record{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ledger row: %w", err)
		}
		records = append(records, cols.record(row))
	}
	return records, nil
}

type columns map[string]int

func columnIndex(head []string) columns {
	c := columns{}
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name == "feedback" {
			name = "verdict"
		}
		if _, dup := c[name]; !dup {
			c[name] = i
		}
	}
	return c
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (c columns) record(row []string) Record {
	rec := Record{
		Input:   c.get(row, "input"),
		Query:   c.get(row, "query"),
		Verdict: Verdict(strings.ToLower(strings.TrimSpace(c.get(row, "verdict")))),
		Comment: c.get(row, "comment"),
	}
	if ts, err := time.Parse(time.RFC3339, c.get(row, "timestamp")); err == nil {
		rec.Timestamp = ts.UTC()
	}
	return rec
}
