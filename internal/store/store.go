// internal/store/store.go
// PostgreSQL persistence for convergence runs and their QA history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store is the PostgreSQL implementation of schemas.RunStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunStore = (*Store)(nil)

// New verifies the connection and returns a ready store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

const sqlInsertRun = `
        INSERT INTO runs (id, variation_id, name, target_url, state, iterations, defects, reason, duration_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

// SaveRun persists one finished convergence run.
func (s *Store) SaveRun(ctx context.Context, record *schemas.RunRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("run record must have an id")
	}

	defects, err := json.Marshal(record.Outcome.Defects)
	if err != nil {
		return fmt.Errorf("failed to encode defects for run %s: %w", record.ID, err)
	}
	if string(defects) == "null" {
		defects = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, sqlInsertRun,
		record.ID, record.VariationID, record.Name, record.TargetURL,
		string(record.Outcome.State), record.Outcome.Iterations,
		defects, record.Outcome.Reason,
		record.Outcome.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", record.ID, err)
	}
	return nil
}

const sqlInsertQAResult = `
        INSERT INTO qa_results (run_id, iteration, status, goal_accomplished, defects, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

// SaveQAResult persists one visual QA verdict under its run.
func (s *Store) SaveQAResult(ctx context.Context, runID string, result schemas.QAResult) error {
	if runID == "" {
		return errors.New("qa result must belong to a run")
	}

	defects, err := json.Marshal(result.Defects)
	if err != nil {
		return fmt.Errorf("failed to encode defects for run %s: %w", runID, err)
	}
	if string(defects) == "null" {
		defects = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, sqlInsertQAResult,
		runID, result.Iteration, string(result.Status), result.GoalAccomplished,
		defects, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert qa result for run %s: %w", runID, err)
	}
	return nil
}

// GetRunsByTarget returns every persisted run against the target URL, oldest
// first.
func (s *Store) GetRunsByTarget(ctx context.Context, targetURL string) ([]schemas.RunRecord, error) {
	query := `
        SELECT id, variation_id, name, state, iterations, defects, reason, duration_ms
        FROM runs
        WHERE target_url = $1
        ORDER BY created_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []schemas.RunRecord
	for rows.Next() {
		var (
			r          schemas.RunRecord
			state      string
			defects    []byte
			durationMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.VariationID, &r.Name, &state,
			&r.Outcome.Iterations, &defects, &r.Outcome.Reason, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		r.TargetURL = targetURL
		r.Outcome.VariationID = r.VariationID
		r.Outcome.Name = r.Name
		r.Outcome.State = schemas.RunState(state)
		r.Outcome.Duration = time.Duration(durationMS) * time.Millisecond
		if len(defects) > 0 {
			if err := json.Unmarshal(defects, &r.Outcome.Defects); err != nil {
				return nil, fmt.Errorf("failed to decode defects for run %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
