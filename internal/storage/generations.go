package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const generationColumns = `id, created_at, utterance, query, prompt, backend, status, error`

// timeLayout has fixed-width fractional seconds so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func (s *Store) SaveGeneration(ctx context.Context, g Generation) error {
	status := g.Status
	if status == "" {
		status = StatusCompleted
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (`+generationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.CreatedAt.UTC().Format(timeLayout), g.Utterance, g.Query,
		g.Prompt, g.Backend, status, g.Error,
	)
	if err != nil {
		return fmt.Errorf("saving generation %s: %w", g.ID, err)
	}
	return nil
}

func (s *Store) GetGeneration(ctx context.Context, id string) (Generation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, ErrNotFound
	}
	return g, err
}

// RecentGenerations returns up to limit generations, newest first.
func (s *Store) RecentGenerations(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+generationColumns+` FROM generations
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Generation{}
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(sc scanner) (Generation, error) {
	var g Generation
	var createdAt string
	if err := sc.Scan(&g.ID, &createdAt, &g.Utterance, &g.Query, &g.Prompt, &g.Backend, &g.Status, &g.Error); err != nil {
		return Generation{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Generation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	g.CreatedAt = t
	return g, nil
}
