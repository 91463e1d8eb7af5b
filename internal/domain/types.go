package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders pending tasks for admission. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps the wire form ("high", "medium", "low") to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// DefaultMaxRetries applies when a TaskSpec leaves MaxRetries at zero.
const DefaultMaxRetries = 3

// TaskSpec is the caller-facing description of one unit of work.
type TaskSpec struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	MaxRetries int             `json:"max_retries"`
}

// Task is the scheduler-owned state of a submitted unit of work. It exists
// only while the task is pending or running; once terminal, only the Result
// remains.
type Task struct {
	ID          string
	Kind        string
	Payload     json.RawMessage
	Priority    Priority
	RetryCount  int
	MaxRetries  int
	SubmittedAt time.Time
}

// Result is the terminal outcome of a task. Data is set iff Success,
// Error iff not.
type Result struct {
	TaskID     string          `json:"task_id"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}
