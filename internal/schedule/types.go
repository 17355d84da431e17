package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects the command behavior. The wire qualifier ("m"/"a"/"s")
// maps onto it 1:1.
type Kind string

const (
	KindMedication  Kind = "medication"
	KindAppointment Kind = "appointment"
	KindSnooze      Kind = "snooze"
)

// ErrUnknownKind is returned for a qualifier outside the closed set.
var ErrUnknownKind = errors.New("unknown scheduling kind")

// ErrPairPartial marks an appointment pair operation where the first
// store call succeeded and the second failed: the system is in a
// detectable partially-applied state, distinct from total failure.
var ErrPairPartial = errors.New("appointment pair partially applied")

// KindOf maps a wire qualifier to its Kind.
func KindOf(qualifier string) (Kind, error) {
	switch qualifier {
	case "m":
		return KindMedication, nil
	case "a":
		return KindAppointment, nil
	case "s":
		return KindSnooze, nil
	default:
		return "", fmt.Errorf("%w: qualifier %q", ErrUnknownKind, qualifier)
	}
}

// Command is one inbound scheduling request. Transport is out of scope;
// the HTTP layer builds these.
type Command struct {
	UserID      string
	Intent      string
	Qualifier   string
	TimePoint   string // raw wire timestamp, only needed by Schedule
	DisplayName string // appointment display label, optional
}

// BaseID derives the command's job id.
func (c Command) BaseID() string {
	return BaseID(c.UserID, c.Intent, c.Qualifier)
}

// Slot is one query result position: scheduled with a display label, or
// the absent sentinel (zero value with Scheduled=false).
type Slot struct {
	ID        string `json:"id"`
	Scheduled bool   `json:"scheduled"`
	Label     string `json:"label,omitempty"`
}

// Descriptor is a query outcome. Medication and snooze queries carry one
// slot; appointment queries always carry exactly two (main, reminder),
// regardless of how many are actually scheduled.
type Descriptor struct {
	Kind  Kind   `json:"kind"`
	Slots []Slot `json:"slots"`
}

// Config tunes the facade.
type Config struct {
	// MisfireGrace is the grace window stamped onto new job specs.
	// Zero selects the default of 30 seconds.
	MisfireGrace time.Duration
}

const defaultMisfireGrace = 30 * time.Second

func (c Config) graceSeconds() int {
	g := c.MisfireGrace
	if g <= 0 {
		g = defaultMisfireGrace
	}
	return int(g / time.Second)
}
