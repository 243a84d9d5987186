package core

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"
)

const defaultHistoryCapacity = 100

// ExecutionRecord captures one terminal job event.
type ExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Engine     string
	Worker     string
	Dispatch   DispatchContext
	Status     JobStatus
	Kind       string // ErrorKind for failed jobs, empty otherwise
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

func newExecutionRecord(e *ExecutionEngine, job *JobState, res runResult) ExecutionRecord {
	o := job.outcome()
	rec := ExecutionRecord{
		TaskID:     job.id,
		Name:       job.name,
		Engine:     e.name,
		Worker:     o.Worker,
		Dispatch:   job.dispatch,
		Status:     o.Status,
		StartedAt:  res.startedAt,
		FinishedAt: res.startedAt.Add(res.elapsed),
		Duration:   res.elapsed,
		Panicked:   res.panicked,
	}
	if rec.StartedAt.IsZero() {
		rec.FinishedAt = time.Now()
		rec.StartedAt = rec.FinishedAt
	}
	var xerr *ExecutionError
	if errors.As(o.Err, &xerr) {
		rec.Kind = xerr.Kind.String()
	}
	return rec
}

// executionHistory is a fixed-size ring of the most recent records.
type executionHistory struct {
	mu    sync.Mutex
	items []ExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &executionHistory{items: make([]ExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *executionHistory) Recent(limit int) []ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]ExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (ExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return ExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// resolveJobName derives a display name for job: the function name for JobFunc
// values, the dynamic type otherwise.
func resolveJobName(job any, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if job == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(job)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", job)
	}

	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}
