package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

var _ Store = (*PostgresStore)(nil)

const (
	pgTable = "context_items"
	// pgUndefinedTable is the SQLSTATE for a missing relation.
	pgUndefinedTable = "42P01"
	pgUpsertChunk    = 200
	// pgMaxEfSearch is the pgvector upper bound for hnsw.ef_search.
	pgMaxEfSearch = 1000
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStore keeps items in a pgvector column with an HNSW cosine index.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

func NewPostgresStore(ctx context.Context, dsn string, dims int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool, dims: dims}, nil
}

func (s *PostgresStore) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			provenance  TEXT NOT NULL DEFAULT '',
			document    JSONB NOT NULL,
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgTable, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, pgTable, pgTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (type)`, pgTable, pgTable),
	}
}

func (s *PostgresStore) EnsureIndex(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func upsertQuery(items []knowledge.Item) (string, []any, error) {
	q := psql.Insert(pgTable).Columns("id", "type", "provenance", "document", "embedding", "created_at")
	for _, it := range items {
		doc, err := encodeDocument(it)
		if err != nil {
			return "", nil, fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
		createdAt := it.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		q = q.Values(it.ID, string(it.Type), it.Provenance, string(doc), pgvector.NewVector(it.Embedding), createdAt)
	}
	return q.Suffix(`ON CONFLICT (id) DO UPDATE SET
		type = EXCLUDED.type,
		provenance = EXCLUDED.provenance,
		document = EXCLUDED.document,
		embedding = EXCLUDED.embedding,
		created_at = EXCLUDED.created_at`).ToSql()
}

func (s *PostgresStore) Upsert(ctx context.Context, items []knowledge.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := validateItems(s.dims, items); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(items); start += pgUpsertChunk {
			end := min(start+pgUpsertChunk, len(items))
			query, args, err := upsertQuery(items[start:end])
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("upserting items: %w", err)
			}
		}
		return nil
	})
}

func searchQuery(vector []float32, k int) (string, []any, error) {
	vec := pgvector.NewVector(vector)
	return psql.Select("id", "document").
		Column(squirrel.Expr("1 - (embedding <=> ?) AS similarity", vec)).
		From(pgTable).
		OrderByClause("embedding <=> ?", vec).
		Limit(uint64(k)).
		ToSql()
}

// efSearchStmt returns the SET LOCAL for the candidate list size, clamped to
// what pgvector accepts. SET does not take bind parameters.
func efSearchStmt(k, numCandidates int) string {
	if numCandidates <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", min(max(numCandidates, k), pgMaxEfSearch))
}

// Search orders by cosine distance. numCandidates sets hnsw.ef_search for
// this query only, inside a read-only transaction.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, k, numCandidates int) ([]knowledge.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := checkDims(s.dims, vector, "query vector"); err != nil {
		return nil, err
	}
	query, args, err := searchQuery(vector, k)
	if err != nil {
		return nil, err
	}

	var hits []knowledge.Hit
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if stmt := efSearchStmt(k, numCandidates); stmt != "" {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("setting ef_search: %w", err)
			}
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var raw []byte
			var sim float64
			if err := rows.Scan(&id, &raw, &sim); err != nil {
				return fmt.Errorf("scanning hit: %w", err)
			}
			d, err := decodeDocument(raw)
			if err != nil {
				return fmt.Errorf("decoding document %s: %w", id, err)
			}
			hits = append(hits, knowledge.Hit{ID: id, Document: d, Similarity: float32(sim)})
		}
		return rows.Err()
	})
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	return hits, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgTable).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	return n, err
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+pgTable); err != nil {
		return fmt.Errorf("dropping %s: %w", pgTable, err)
	}
	return s.EnsureIndex(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
