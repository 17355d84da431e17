// Package schedule is the public command surface of the scheduler: it
// translates medication/appointment/snooze commands into concrete job
// specs, persists them, and keeps the trigger engine's wake set in sync.
package schedule
