package trigger

import (
	"context"
	"time"

	"ayod/internal/jobstore"
)

// Firer is the outbound fire-event capability invoked at trigger time.
// Delivery is best-effort: the engine logs failures but never retries.
type Firer interface {
	FireIntent(ctx context.Context, userID, intent, qualifier string) error
	FireTemplate(ctx context.Context, userID string) error
}

// Config controls the engine.
type Config struct {
	// Workers bounds concurrent fire calls; one slow delivery must not
	// delay detection of other due jobs.
	Workers int

	// QueueSize is the dispatch buffer between the wake loop and workers.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// entry is one pending due occurrence in the wake ordering.
//
// It carries the spec snapshot taken when the occurrence was scheduled;
// any replace bumps the id's generation, so a live entry's snapshot always
// matches the stored spec.
type entry struct {
	dueAt time.Time
	seq   uint64 // insertion order, deterministic tie-break
	gen   uint64 // id generation at push time; stale entries are discarded
	spec  jobstore.JobSpec
}

// firing is a dispatched occurrence handed to a worker.
type firing struct {
	spec  jobstore.JobSpec
	dueAt time.Time
	gen   uint64
}

// JobStatus describes one pending job for status snapshots.
type JobStatus struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Label   string    `json:"label,omitempty"`
	NextDue time.Time `json:"next_due"`
}

func grace(spec jobstore.JobSpec) time.Duration {
	if spec.GraceSeconds <= 0 {
		return 0
	}
	return time.Duration(spec.GraceSeconds) * time.Second
}
