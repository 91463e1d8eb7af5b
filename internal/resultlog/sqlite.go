package resultlog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"

	"taskline/internal/domain"
)

var ErrNotFound = errors.New("result not found")

// EnsureSchema creates the journal table if it doesn't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS results (
  task_id TEXT PRIMARY KEY,
  success INTEGER NOT NULL,
  data BLOB,
  error TEXT NOT NULL DEFAULT '',
  finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_finished ON results(finished_at);
`
	_, err := db.Exec(schema)
	return err
}

// Recorder journals finalized task Results to SQLite. It is an audit sink
// attached through the processor's result hook; the in-memory result store
// remains the source of truth for callers.
type Recorder struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRecorder(db *sql.DB, log zerolog.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Record writes one Result. A Result already journaled for the same task id
// is left untouched.
func (r *Recorder) Record(ctx context.Context, res domain.Result) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO results (task_id, success, data, error, finished_at)
VALUES (?,?,?,?,?)
ON CONFLICT(task_id) DO NOTHING
`, res.TaskID, res.Success, []byte(res.Data), res.Error, res.FinishedAt)
	return err
}

// Hook adapts the Recorder to the processor's result hook signature. Journal
// write failures are logged, not surfaced; the in-memory Result is already
// stored by the time the hook runs.
func (r *Recorder) Hook() func(domain.Result) {
	return func(res domain.Result) {
		if err := r.Record(context.Background(), res); err != nil {
			r.log.Error().Err(err).Str("task_id", res.TaskID).Msg("failed to journal result")
		}
	}
}

// Get returns the journaled Result for a task id, or ErrNotFound.
func (r *Recorder) Get(ctx context.Context, taskID string) (domain.Result, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT task_id, success, data, error, finished_at FROM results WHERE task_id=?`, taskID)
	var res domain.Result
	var data []byte
	err := row.Scan(&res.TaskID, &res.Success, &data, &res.Error, &res.FinishedAt)
	if err == sql.ErrNoRows {
		return domain.Result{}, ErrNotFound
	}
	if err != nil {
		return domain.Result{}, err
	}
	res.Data = data
	return res, nil
}

// List returns the most recently finished Results, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]domain.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT task_id, success, data, error, finished_at
FROM results ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		var res domain.Result
		var data []byte
		if err := rows.Scan(&res.TaskID, &res.Success, &data, &res.Error, &res.FinishedAt); err != nil {
			return nil, err
		}
		res.Data = data
		results = append(results, res)
	}
	return results, rows.Err()
}
