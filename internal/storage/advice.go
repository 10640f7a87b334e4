package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sekimori-ai/sekimori/internal/advice"
	"github.com/sekimori-ai/sekimori/internal/model"
)

// Put upserts the advice snapshot for a run. Last write wins; there are
// no merge semantics.
func (db *DB) Put(ctx context.Context, a model.Advice) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO advice_snapshots (run_id, summary, risks, counter_cases, confidence, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id) DO UPDATE SET
		     summary = EXCLUDED.summary,
		     risks = EXCLUDED.risks,
		     counter_cases = EXCLUDED.counter_cases,
		     confidence = EXCLUDED.confidence,
		     generated_at = EXCLUDED.generated_at`,
		a.RunID, a.Summary, a.Risks, a.CounterCases, a.Confidence, a.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put advice: %w", err)
	}
	return nil
}

// Get retrieves the last written advice snapshot for a run.
func (db *DB) Get(ctx context.Context, runID uuid.UUID) (model.Advice, error) {
	var a model.Advice
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, summary, risks, counter_cases, confidence, generated_at
		 FROM advice_snapshots WHERE run_id = $1`, runID,
	).Scan(&a.RunID, &a.Summary, &a.Risks, &a.CounterCases, &a.Confidence, &a.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Advice{}, advice.ErrNotFound
		}
		return model.Advice{}, fmt.Errorf("storage: get advice: %w", err)
	}
	return a, nil
}
