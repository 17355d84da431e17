package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Validate checks field-level constraints that don't require opening
// files or sockets. Wiring-level checks (timezone lookup, cron spec)
// happen where the value is consumed.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.misfire_grace", c.Scheduler.MisfireGrace},
		{"jobstore.busy_timeout", c.JobStore.BusyTimeout},
		{"tracker.busy_timeout", c.Tracker.BusyTimeout},
		{"notifier.timeout", c.Notifier.Timeout},
		{"http.read_header_timeout", c.HTTP.ReadHeaderTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Maintenance != nil {
		if _, err := ParseDurationField("maintenance.retention", c.Maintenance.Retention); err != nil {
			return err
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0")
	}
	if c.Scheduler.QueueSize < 0 {
		return fmt.Errorf("scheduler.queue_size: must be >= 0")
	}
	switch strings.TrimSpace(c.JobStore.Driver) {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("jobstore.driver: unknown driver %q", c.JobStore.Driver)
	}
	if key := strings.TrimSpace(c.Tracker.CryptoKey); key != "" {
		b, err := hex.DecodeString(key)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("tracker.crypto_key: want 64 hex chars (32 bytes)")
		}
	}
	if c.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec: must be >= 0")
	}
	return nil
}

// MisfireGraceOrDefault returns the scheduler grace, defaulting to 30s.
func (c *Config) MisfireGraceOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.misfire_grace", c.Scheduler.MisfireGrace, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
