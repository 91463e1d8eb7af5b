package resultlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"taskline/internal/domain"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, EnsureSchema(db))
	return NewRecorder(db, zerolog.Nop())
}

func TestRecordAndGet(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	res := domain.Result{
		TaskID:     "tsk_1",
		Success:    true,
		Data:       json.RawMessage(`{"rows":3}`),
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, r.Record(ctx, res))

	got, err := r.Get(ctx, "tsk_1")
	require.NoError(t, err)
	assert.Equal(t, res.TaskID, got.TaskID)
	assert.True(t, got.Success)
	assert.Equal(t, res.Data, got.Data)
	assert.WithinDuration(t, res.FinishedAt, got.FinishedAt, time.Second)
}

func TestGetMissing(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Get(context.Background(), "tsk_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordDuplicateKeepsFirst(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	first := domain.Result{TaskID: "tsk_1", Success: true, FinishedAt: time.Now().UTC()}
	require.NoError(t, r.Record(ctx, first))
	require.NoError(t, r.Record(ctx, domain.Result{TaskID: "tsk_1", Error: "late write", FinishedAt: time.Now().UTC()}))

	got, err := r.Get(ctx, "tsk_1")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Empty(t, got.Error)
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"tsk_a", "tsk_b", "tsk_c"} {
		require.NoError(t, r.Record(ctx, domain.Result{
			TaskID:     id,
			Success:    true,
			FinishedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := r.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tsk_c", got[0].TaskID)
	assert.Equal(t, "tsk_b", got[1].TaskID)
}

func TestFailureRoundTrip(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, domain.Result{
		TaskID:     "tsk_bad",
		Error:      "retries exhausted after 3 attempts: boom",
		FinishedAt: time.Now().UTC(),
	}))

	got, err := r.Get(ctx, "tsk_bad")
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "retries exhausted")
	assert.Empty(t, got.Data)
}
