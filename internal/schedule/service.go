package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taskline/internal/domain"
	"taskline/internal/scheduler"
)

// Entry is one recurring submission: a cron expression plus the task spec it
// submits when due.
type Entry struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CronExpr   string          `json:"cron_expr"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   domain.Priority `json:"priority"`
	MaxRetries int             `json:"max_retries"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
	NextRun    time.Time       `json:"next_run"`
}

// Service submits tasks to a Processor on cron schedules. Entries live in
// memory; a Service torn down mid-interval simply misses that interval.
type Service struct {
	mu       sync.Mutex
	proc     *scheduler.Processor
	entries  map[string]*Entry
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewService(proc *scheduler.Processor, checkInterval time.Duration, log zerolog.Logger) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	return &Service{
		proc:     proc,
		entries:  make(map[string]*Entry),
		interval: checkInterval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Add registers a recurring submission and returns its id. The cron
// expression uses the standard five-field form.
func (s *Service) Add(e Entry) (string, error) {
	if e.Name == "" {
		return "", fmt.Errorf("schedule name is required")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("schedule task kind is required")
	}
	sched, err := cron.ParseStandard(e.CronExpr)
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", e.CronExpr, err)
	}
	e.ID = "sch_" + uuid.NewString()
	e.NextRun = sched.Next(time.Now())

	s.mu.Lock()
	s.entries[e.ID] = &e
	s.mu.Unlock()

	s.log.Info().
		Str("schedule_id", e.ID).
		Str("schedule_name", e.Name).
		Str("cron_expr", e.CronExpr).
		Time("next_run", e.NextRun).
		Msg("schedule added")
	return e.ID, nil
}

// Remove deletes a schedule. Removing an unknown id is a no-op.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// List returns a snapshot of all schedules.
func (s *Service) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Start runs the tick loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.processDue(now)
		}
	}
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) processDue(now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.NextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.fire(e, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", e.ID).Msg("failed to submit scheduled task")
		}
	}
}

func (s *Service) fire(e *Entry, now time.Time) error {
	sched, err := cron.ParseStandard(e.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", e.CronExpr, err)
	}

	taskID, err := s.proc.Submit(domain.TaskSpec{
		Kind:       e.Kind,
		Payload:    e.Payload,
		Priority:   e.Priority,
		MaxRetries: e.MaxRetries,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	e.LastRun = &now
	e.NextRun = sched.Next(now)
	next := e.NextRun
	s.mu.Unlock()

	s.log.Info().
		Str("schedule_id", e.ID).
		Str("schedule_name", e.Name).
		Str("task_id", taskID).
		Time("next_run", next).
		Msg("scheduled task submitted")
	return nil
}

// ValidateCronExpression validates a standard cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
