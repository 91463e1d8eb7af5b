// Package scheduler runs submitted tasks with a fixed concurrency ceiling.
//
// Callers construct a Processor, register a handler per task kind, and
// submit task specs. Submission returns an id immediately; the task runs
// asynchronously once a slot is free, highest priority first and FIFO within
// a priority tier. Failed tasks are retried with exponential backoff until
// their retry budget is spent, then finalized as failures. Outcomes land in
// an in-memory result store keyed by task id; callers poll Result, block on
// Wait, or attach a result hook.
//
// Everything is in-process and best effort: pending tasks and tasks waiting
// out a backoff window do not survive a Close or a crash.
package scheduler
