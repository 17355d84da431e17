package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	JobStore  JobStoreConfig  `json:"jobstore"`
	Tracker   TrackerConfig   `json:"tracker"`
	Notifier  NotifierConfig  `json:"notifier"`
	HTTP      HTTPConfig      `json:"http"`

	// Maintenance is optional; nil disables the audit sweeper.
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger engine.
//
// MisfireGrace is a Go duration string (e.g. "30s"). Jobs dispatched
// later than due+grace are skipped instead of fired.
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	MisfireGrace string `json:"misfire_grace,omitempty"`
}

type JobStoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TrackerConfig controls the engagement store. CryptoKey is a 64-char
// hex key; when set, nicknames are encrypted at rest.
type TrackerConfig struct {
	Path        string `json:"path"`
	CryptoKey   string `json:"crypto_key,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls outbound message delivery.
//
// Timeout is a Go duration string applied per request.
type NotifierConfig struct {
	BaseURL       string `json:"base_url"`
	PhoneNumberID string `json:"phone_number_id"`
	SenderName    string `json:"sender_name,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Addr              string `json:"addr"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
}

// MaintenanceConfig controls the fire-audit sweeper.
//
// Spec is a cron expression (supports descriptors like "@daily").
// Retention is a Go duration string; audit rows older than this are
// pruned on each sweep.
type MaintenanceConfig struct {
	Spec      string `json:"spec,omitempty"`
	Retention string `json:"retention,omitempty"`
}
