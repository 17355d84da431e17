package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ayod/internal/eventbus"
	"ayod/internal/httpapi"
	"ayod/internal/trigger"
)

func TestHistoryRingNewestFirst(t *testing.T) {
	t.Parallel()
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.add(httpapi.RecentEvent{Type: eventbus.TypeJobFired, ID: fmt.Sprintf("job%d", i)})
	}
	got := h.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"job4", "job3", "job2"} {
		if got[i].ID != want {
			t.Fatalf("snapshot[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestHistoryConsumesBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	h := newHistory(10)
	events, done := bus.Subscribe(16)
	go h.run(events)

	bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobFired,
		Data: trigger.FireInfo{ID: "u1take_pillm", Label: "08:00 AM", At: time.Now()},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobMisfired,
		Data: trigger.FireInfo{ID: "u1snoozes", Err: "past grace"},
	})
	// Events without a FireInfo payload are ignored.
	bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired, Data: "noise"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := h.snapshot()
		if len(snap) == 2 {
			if snap[0].ID != "u1snoozes" || snap[0].Err != "past grace" {
				t.Fatalf("newest = %+v", snap[0])
			}
			if snap[1].ID != "u1take_pillm" || snap[1].Label != "08:00 AM" {
				t.Fatalf("oldest = %+v", snap[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never caught up: %d events", len(snap))
		}
		time.Sleep(10 * time.Millisecond)
	}
	done()
}

type recordingFirer struct {
	templateErr error
	templates   []string
	intents     []string
}

func (r *recordingFirer) FireIntent(_ context.Context, userID, intent, qualifier string) error {
	r.intents = append(r.intents, userID+intent+qualifier)
	return nil
}

func (r *recordingFirer) FireTemplate(_ context.Context, userID string) error {
	r.templates = append(r.templates, userID)
	return r.templateErr
}

func TestCountingFirerPropagatesDeliveryError(t *testing.T) {
	t.Parallel()
	inner := &recordingFirer{templateErr: errors.New("delivery down")}
	f := &countingFirer{next: inner}

	if err := f.FireTemplate(context.Background(), "u1"); err == nil {
		t.Fatal("want delivery error propagated")
	}
	if err := f.FireIntent(context.Background(), "u1", "snooze", "s"); err != nil {
		t.Fatalf("FireIntent: %v", err)
	}
	if len(inner.templates) != 1 || len(inner.intents) != 1 {
		t.Fatalf("forwarded calls = %d/%d", len(inner.templates), len(inner.intents))
	}
}
