// Package trigger implements the wake/fire state machine for scheduled jobs.
//
// The engine keeps an in-memory min-ordering of next-due instants derived
// from the stored specs, sleeps until the earliest one, and hands due
// occurrences to a bounded worker pool that invokes the outbound fire
// capability. Recurring jobs are rescheduled for the next day; one-shot
// jobs are removed from the store after their single fire. Occurrences
// observed later than their misfire grace window are skipped, never fired
// late.
package trigger
