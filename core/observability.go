package core

import "time"

// RunnerStats represents runtime observability state for the main runner.
type RunnerStats struct {
	Name       string
	Type       string
	Pending    int
	Running    int
	Executed   int64
	Rejected   int64
	Panics     int64
	Closed     bool
	LastTaskAt time.Time
}

// PoolSnapshot represents runtime observability state for an engine and its pool.
type PoolSnapshot struct {
	Engine       string
	PoolID       string
	Kind         PoolKind
	Workers      int
	Active       int
	Queued       int
	Delayed      int
	Completed    int64
	Total        int64
	IsShutdown   bool
	IsTerminated bool

	TasksReused    int64
	TasksAllocated int64
	PooledTasks    int

	Observers        int
	PendingDispatch  int64
	MonitorEnabled   bool
	RejectedReleases int64
	CapturedAt       time.Time
}
