package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskline/internal/domain"
	"taskline/internal/handlers/fetch"
	"taskline/internal/handlers/shell"
	"taskline/internal/resultlog"
	"taskline/internal/schedule"
	"taskline/internal/scheduler"
)

// batch is the input file format: one-shot tasks plus optional recurring
// schedules. With schedules present the process keeps running until signaled.
type batch struct {
	Tasks     []taskSpec       `json:"tasks"`
	Schedules []schedule.Entry `json:"schedules"`
}

type taskSpec struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   domain.Priority `json:"priority"`
	MaxRetries int             `json:"max_retries"`
}

type config struct {
	workers   int
	baseDelay time.Duration
	dbPath    string
	tick      time.Duration
	timeout   time.Duration
	batchPath string
}

// errTasksFailed marks a clean run in which at least one task failed.
var errTasksFailed = errors.New("one or more tasks failed")

func main() {
	var cfg config
	flag.IntVar(&cfg.workers, "workers", 4, "concurrency ceiling for task execution")
	flag.DurationVar(&cfg.baseDelay, "base-delay", time.Second, "retry backoff base unit")
	flag.StringVar(&cfg.dbPath, "db", "", "SQLite path for the result journal (empty disables journaling)")
	flag.DurationVar(&cfg.tick, "tick", time.Second, "schedule check interval")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Minute, "max time to wait for one-shot tasks")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskline [flags] <batch.json>")
		os.Exit(2)
	}
	cfg.batchPath = flag.Arg(0)

	// Failures surface through run so its defers close the processor and
	// flush the journal before the process exits.
	if err := run(cfg); err != nil {
		if errors.Is(err, errTasksFailed) {
			os.Exit(1)
		}
		log.Error().Err(err).Msg("taskline")
		os.Exit(1)
	}
}

func run(cfg config) error {
	var b batch
	raw, err := os.ReadFile(cfg.batchPath)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	opts := []scheduler.Option{
		scheduler.WithConcurrency(cfg.workers),
		scheduler.WithBaseDelay(cfg.baseDelay),
		scheduler.WithLogger(log.Logger),
	}

	if cfg.dbPath != "" {
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", cfg.dbPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("open journal db: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer
		if err := resultlog.EnsureSchema(db); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
		recorder := resultlog.NewRecorder(db, log.Logger)
		opts = append(opts, scheduler.WithResultHook(recorder.Hook()))
	}

	proc := scheduler.New(opts...)
	defer proc.Close()

	if err := proc.Register("shell", shell.Shell{}); err != nil {
		return fmt.Errorf("register shell handler: %w", err)
	}
	if err := proc.Register("fetch", fetch.Fetch{}); err != nil {
		return fmt.Errorf("register fetch handler: %w", err)
	}

	ids := make([]string, 0, len(b.Tasks))
	for _, ts := range b.Tasks {
		id, err := proc.Submit(domain.TaskSpec{
			Kind:       ts.Kind,
			Payload:    ts.Payload,
			Priority:   ts.Priority,
			MaxRetries: ts.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("submit %s task: %w", ts.Kind, err)
		}
		ids = append(ids, id)
	}

	if len(b.Schedules) > 0 {
		return runWithSchedules(proc, b.Schedules, cfg.tick)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	failed := 0
	for _, id := range ids {
		res, err := proc.Wait(ctx, id)
		if err != nil {
			return fmt.Errorf("wait for task %s: %w", id, err)
		}
		if !res.Success {
			failed++
		}
	}

	st := proc.Status()
	log.Info().
		Int("completed", st.Completed).
		Int("failed", failed).
		Msg("batch finished")
	if failed > 0 {
		return errTasksFailed
	}
	return nil
}

// runWithSchedules starts the recurring submission service and blocks until
// SIGINT/SIGTERM.
func runWithSchedules(proc *scheduler.Processor, entries []schedule.Entry, tick time.Duration) error {
	svc := schedule.NewService(proc, tick, log.Logger)
	for _, e := range entries {
		if _, err := svc.Add(e); err != nil {
			return fmt.Errorf("add schedule %q: %w", e.Name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	svc.Stop()
	return nil
}
