// Package jobstore persists scheduled job specs keyed by their derived id.
//
// The store is the single source of truth for the trigger engine: on startup
// the engine reloads every spec and rebuilds its wake schedule from here.
// Two drivers exist behind Open():
//   - "sqlite": durable file-backed store (survives restarts)
//   - "memory": ephemeral store used by tests and throwaway deployments
package jobstore
