package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps items in the context_items table and answers queries with
// an exact brute-force cosine scan. Every row is examined, so numCandidates
// is always satisfied.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// NewSQLiteStore wraps a database opened by storage.Open, whose migrations
// create context_items.
func NewSQLiteStore(db *sql.DB, dims int) *SQLiteStore {
	return &SQLiteStore{db: db, dims: dims}
}

func (s *SQLiteStore) EnsureIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `SELECT 1 FROM context_items LIMIT 1`); err != nil {
		return fmt.Errorf("context_items table unavailable (migrations not applied?): %w", err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, items []knowledge.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := validateItems(s.dims, items); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_items (id, type, provenance, document, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			provenance = excluded.provenance,
			document = excluded.document,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		doc, err := encodeDocument(it)
		if err != nil {
			return fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
		createdAt := it.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, it.ID, string(it.Type), it.Provenance, string(doc),
			encodeFloat32s(it.Embedding), createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("upserting item %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// Search scans id and embedding only, keeps the best k in a heap, then loads
// documents for the winners.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k, _ int) ([]knowledge.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := checkDims(s.dims, vector, "query vector"); err != nil {
		return nil, err
	}
	qNorm := norm(vector)
	if qNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM context_items`)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	best := newTopK(k)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		best.offer(id, cosine(vector, buf, qNorm))
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	winners := best.sorted()
	if len(winners) == 0 {
		return nil, nil
	}

	docs, err := s.documents(ctx, winners)
	if err != nil {
		return nil, err
	}
	hits := make([]knowledge.Hit, 0, len(winners))
	for _, w := range winners {
		d, ok := docs[w.id]
		if !ok {
			continue // replaced concurrently by Reset
		}
		hits = append(hits, knowledge.Hit{ID: w.id, Document: d, Similarity: w.score})
	}
	return hits, nil
}

func (s *SQLiteStore) documents(ctx context.Context, winners []scored) (map[string]knowledge.Document, error) {
	args := make([]any, len(winners))
	for i, w := range winners {
		args[i] = w.id
	}
	query := `SELECT id, document FROM context_items WHERE id IN (?` + strings.Repeat(",?", len(winners)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]knowledge.Document, len(winners))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d, err := decodeDocument([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", id, err)
		}
		docs[id] = d
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_items`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context_items`); err != nil {
		return fmt.Errorf("clearing context_items: %w", err)
	}
	return nil
}

// Close is a no-op; the database belongs to storage.Store.
func (s *SQLiteStore) Close() error { return nil }
