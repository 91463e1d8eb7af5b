package schedule

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
	"taskline/internal/scheduler"
)

func newTestService(t *testing.T) (*Service, *scheduler.Processor) {
	t.Helper()
	proc := scheduler.New()
	t.Cleanup(proc.Close)
	require.NoError(t, proc.Register("noop", scheduler.HandlerFunc(
		func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		})))
	return NewService(proc, 10*time.Millisecond, zerolog.Nop()), proc
}

func TestAddValidatesCron(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Add(Entry{Name: "bad", Kind: "noop", CronExpr: "not a cron"})
	assert.Error(t, err)

	_, err = svc.Add(Entry{Name: "", Kind: "noop", CronExpr: "* * * * *"})
	assert.Error(t, err)

	_, err = svc.Add(Entry{Name: "nokind", CronExpr: "* * * * *"})
	assert.Error(t, err)
}

func TestAddComputesNextRun(t *testing.T) {
	svc, _ := newTestService(t)

	id, err := svc.Add(Entry{Name: "hourly", Kind: "noop", CronExpr: "0 * * * *"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries := svc.List()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].NextRun.After(time.Now()))
	assert.Nil(t, entries[0].LastRun)
}

func TestProcessDueSubmitsAndAdvances(t *testing.T) {
	svc, proc := newTestService(t)

	id, err := svc.Add(Entry{
		Name:     "every-minute",
		Kind:     "noop",
		CronExpr: "* * * * *",
		Payload:  json.RawMessage(`{"n":1}`),
		Priority: domain.PriorityHigh,
	})
	require.NoError(t, err)

	// Force the entry due and tick once by hand.
	svc.mu.Lock()
	svc.entries[id].NextRun = time.Now().Add(-time.Minute)
	svc.mu.Unlock()
	now := time.Now()
	svc.processDue(now)

	entries := svc.List()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].LastRun)
	assert.True(t, entries[0].NextRun.After(now))

	require.Eventually(t, func() bool {
		return len(proc.Results()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	res := proc.Results()[0]
	assert.True(t, res.Success)
	assert.Equal(t, json.RawMessage(`{"n":1}`), res.Data)
}

func TestProcessDueSkipsFuture(t *testing.T) {
	svc, proc := newTestService(t)

	_, err := svc.Add(Entry{Name: "later", Kind: "noop", CronExpr: "0 * * * *"})
	require.NoError(t, err)

	svc.processDue(time.Now())
	assert.Empty(t, proc.Results())

	entries := svc.List()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].LastRun)
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService(t)

	id, err := svc.Add(Entry{Name: "gone", Kind: "noop", CronExpr: "* * * * *"})
	require.NoError(t, err)
	svc.Remove(id)
	assert.Empty(t, svc.List())
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/5 * * * *"))
	assert.Error(t, ValidateCronExpression("61 * * * *"))
}

func TestNextRunTime(t *testing.T) {
	from := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	next, err := NextRunTime("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC), next)

	_, err = NextRunTime("bogus", from)
	assert.Error(t, err)
}
