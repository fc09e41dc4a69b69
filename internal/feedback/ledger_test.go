package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(filepath.Join(t.TempDir(), "data", "feedback.csv"))
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestAppend_WritesHeaderOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Record{Input: "all docs", Query: "SELECT * FROM dm_document", Verdict: "GOOD"}))
	require.NoError(t, l.Append(ctx, Record{Input: "count, please", Query: "SELECT COUNT(*) FROM dm_document", Verdict: VerdictBad, Comment: "needs \"quotes\""}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "input,query,verdict,comment,timestamp", lines[0])
	assert.Equal(t, "all docs,SELECT * FROM dm_document,good,,2025-03-01T12:00:00Z", lines[1])
	assert.Equal(t, `"count, please",SELECT COUNT(*) FROM dm_document,bad,"needs ""quotes""",2025-03-01T12:00:00Z`, lines[2])
}

func TestAppend_ValidationDoesNotTouchFile(t *testing.T) {
	l := newTestLedger(t)

	err := l.Append(context.Background(), Record{Input: " ", Query: "SELECT 1", Verdict: "meh"})
	require.ErrorIs(t, err, ErrInvalidRecord)
	assert.ErrorContains(t, err, "input is required")
	assert.ErrorContains(t, err, "verdict must be good or bad")

	var lw *LedgerWriteError
	assert.False(t, errors.As(err, &lw))
	_, statErr := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestAppend_WriteFailureIsLedgerWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	l := NewLedger(filepath.Join(blocker, "feedback.csv"))
	err := l.Append(context.Background(), Record{Input: "a", Query: "b", Verdict: VerdictGood})

	var lw *LedgerWriteError
	require.True(t, errors.As(err, &lw))
	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.Equal(t, l.Path(), lw.Path)
}

func TestAppend_ConcurrentRowsStayIntact(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, Record{
				Input:   fmt.Sprintf("utterance %d", i),
				Query:   "SELECT r_object_id FROM dm_document",
				Verdict: VerdictGood,
			}))
		}(i)
	}
	wg.Wait()

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 20)
	for _, r := range records {
		assert.True(t, strings.HasPrefix(r.Input, "utterance "))
		assert.Equal(t, VerdictGood, r.Verdict)
	}
}

func TestRecords_MissingLedgerIsEmpty(t *testing.T) {
	records, err := newTestLedger(t).Records(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestRecords_ReadsLegacyHeader(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path()), 0o755))
	legacy := "input,query,feedback,comment\n" +
		"list folders,SELECT * FROM dm_folder,Good,\n" +
		"bad one,SELECT * FROM nowhere,bad,wrong table\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(legacy), 0o644))

	records, err := l.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Input: "list folders", Query: "SELECT * FROM dm_folder", Verdict: VerdictGood}, records[0])
	assert.Equal(t, VerdictBad, records[1].Verdict)
	assert.Equal(t, "wrong table", records[1].Comment)
	assert.True(t, records[1].Timestamp.IsZero())
}

func TestRecords_RoundTripsTimestamp(t *testing.T) {
	l := newTestLedger(t)
	ts := time.Date(2024, 12, 24, 8, 15, 0, 0, time.UTC)
	require.NoError(t, l.Append(context.Background(), Record{Input: "a", Query: "b", Verdict: VerdictBad, Timestamp: ts}))

	records, err := l.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, ts.Equal(records[0].Timestamp))
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict(" Bad ")
	require.NoError(t, err)
	assert.Equal(t, VerdictBad, v)
	assert.Equal(t, -1.0, v.Score())
	assert.Equal(t, 1.0, VerdictGood.Score())

	_, err = ParseVerdict("thumbs-up")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
