// Package timepoint parses the wire timestamp profile and resolves it
// into calendar fields in the daemon's fixed operating time zone.
package timepoint

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the only accepted wire format: ISO-8601 with exactly three
// fractional-second digits and a numeric UTC offset.
// Example: "2024-03-01T08:00:00.000+01:00".
const Layout = "2006-01-02T15:04:05.000-07:00"

// DefaultZone is the operating time zone when the config leaves it empty.
const DefaultZone = "Africa/Lagos"

// ErrBadTimestamp is returned for any input that deviates from Layout.
// Callers must treat it as a hard reject: nothing may be stored for a
// command whose timestamp did not parse.
var ErrBadTimestamp = errors.New("timestamp does not match YYYY-MM-DDTHH:MM:SS.sss±HH:MM")

// Point is an absolute instant decomposed into calendar fields of the
// operating zone. The zero value is not a valid point.
type Point struct {
	Instant time.Time // normalized into the operating zone

	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// Resolver converts raw wire timestamps into Points.
type Resolver struct {
	loc *time.Location
}

// NewResolver loads the operating zone. An empty name selects DefaultZone.
func NewResolver(zone string) (*Resolver, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("timepoint: load zone %q: %w", zone, err)
	}
	return &Resolver{loc: loc}, nil
}

// Location returns the operating zone.
func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve parses raw strictly against Layout and returns the instant
// re-expressed in the operating zone. Any parse failure is ErrBadTimestamp;
// there is no best-effort fallback.
func (r *Resolver) Resolve(raw string) (Point, error) {
	t, err := time.Parse(Layout, raw)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
	}
	return r.fromTime(t), nil
}

func (r *Resolver) fromTime(t time.Time) Point {
	local := t.In(r.loc)
	return Point{
		Instant: local,
		Year:    local.Year(),
		Month:   int(local.Month()),
		Day:     local.Day(),
		Hour:    local.Hour(),
		Minute:  local.Minute(),
		Second:  local.Second(),
	}
}

// Add returns the point shifted by d, re-decomposed in the operating zone.
// Used to derive the 24-hour-prior appointment reminder instant.
func (r *Resolver) Add(p Point, d time.Duration) Point {
	return r.fromTime(p.Instant.Add(d))
}
