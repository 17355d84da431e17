package jobstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists is returned by Put when replace is false and the id
	// is already present. Nothing is mutated in that case.
	ErrAlreadyExists = errors.New("job id already exists")

	// ErrNotFound is returned by Get/Remove for an absent id. Removal of an
	// already-absent id is reported, not fatal.
	ErrNotFound = errors.New("job not found")
)

// Kind discriminates the two trigger rules a spec can carry.
type Kind string

const (
	// KindRecurringDaily fires every day at Hour:Minute:Second.
	// Year/Month/Day are wildcarded (stored as zero).
	KindRecurringDaily Kind = "recurring-daily"

	// KindOneShot fires once at the absolute calendar point and is then
	// removed from the store.
	KindOneShot Kind = "one-shot-absolute"
)

// FireMode selects which outbound capability a fire invokes.
type FireMode string

const (
	// FireIntent posts a generic intent call for the job's user.
	FireIntent FireMode = "intent"

	// FireTemplate posts the template notification (medication path).
	FireTemplate FireMode = "template"
)

// Payload is forwarded verbatim to the fire capability at trigger time.
type Payload struct {
	UserID    string
	Intent    string
	Qualifier string
	Fire      FireMode

	// Label is the human-readable display string shown by query results
	// (e.g. "08:00 AM", "'Checkup' on Tue 2024-03-05 03:30 PM").
	Label string
}

// JobSpec is the durable unit of schedulable work.
//
// For KindOneShot all six calendar fields are set; for KindRecurringDaily
// only Hour/Minute/Second are meaningful and Year/Month/Day stay zero.
// Calendar fields are interpreted in the engine's fixed operating zone.
type JobSpec struct {
	ID   string
	Kind Kind

	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int

	Payload Payload

	// GraceSeconds is the misfire grace window: a due occurrence observed
	// later than this many seconds past its instant is skipped, never
	// fired late and never retried.
	GraceSeconds int

	CreatedAt time.Time
}

// FireRecord is one audit row describing the outcome of a due occurrence.
type FireRecord struct {
	JobID   string
	DueAt   time.Time
	FiredAt time.Time
	Outcome string // "fired", "misfired", "delivery-failed"
	Err     string
}

// Fire outcomes recorded in the audit table.
const (
	OutcomeFired          = "fired"
	OutcomeMisfired       = "misfired"
	OutcomeDeliveryFailed = "delivery-failed"
)

// Store is the persistence contract for scheduled jobs.
//
// All mutation paths must be safe under concurrent calls from inbound
// commands and from the engine's own rescheduling; per-id atomicity is
// sufficient since jobs are independent.
type Store interface {
	// Put inserts the spec. With replace it overwrites an existing id in
	// place; without, an existing id fails with ErrAlreadyExists and the
	// stored spec is left untouched.
	Put(ctx context.Context, spec JobSpec, replace bool) error

	// Get returns the spec for id or ErrNotFound.
	Get(ctx context.Context, id string) (JobSpec, error)

	// Remove deletes the spec for id, ErrNotFound when absent.
	Remove(ctx context.Context, id string) error

	// List returns every stored spec (engine reload path).
	List(ctx context.Context) ([]JobSpec, error)

	// AppendFire records the outcome of a due occurrence.
	AppendFire(ctx context.Context, rec FireRecord) error

	// PruneFires deletes audit rows fired before the cutoff and reports
	// how many were removed.
	PruneFires(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Config configures the job store.
//
// Driver values: "sqlite" (default) or "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
