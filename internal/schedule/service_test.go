package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ayod/internal/jobstore"
	"ayod/internal/timepoint"
	logx "ayod/pkg/logx"
)

type fakeEngine struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (f *fakeEngine) Add(spec jobstore.JobSpec) {
	f.mu.Lock()
	f.added = append(f.added, spec.ID)
	f.mu.Unlock()
}

func (f *fakeEngine) Remove(id string) {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, jobstore.Store, *fakeEngine) {
	t.Helper()
	resolver, err := timepoint.NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store := jobstore.NewMemory()
	eng := &fakeEngine{}
	svc := New(Config{}, resolver, store, eng, logx.Nop())
	return svc, store, eng
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	cases := map[string]Kind{"m": KindMedication, "a": KindAppointment, "s": KindSnooze}
	for q, want := range cases {
		got, err := KindOf(q)
		if err != nil || got != want {
			t.Fatalf("KindOf(%q) = %v, %v; want %v", q, got, err, want)
		}
	}
	if _, err := KindOf("x"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("KindOf(x): %v, want ErrUnknownKind", err)
	}
}

func TestIDScheme(t *testing.T) {
	t.Parallel()
	base := BaseID("u1", "take_pill", "m")
	if base != "u1take_pillm" {
		t.Fatalf("BaseID = %q, want u1take_pillm", base)
	}
	slots := AppointmentSlotIDs("u1visita")
	if slots[0] != "u1visita" || slots[1] != "u1visita#rem24" {
		t.Fatalf("slots = %v", slots)
	}
}

func TestMedicationScheduleAndReplace(t *testing.T) {
	t.Parallel()
	svc, store, eng := newTestService(t)
	ctx := context.Background()

	cmd := Command{UserID: "u1", Intent: "take_pill", Qualifier: "m", TimePoint: "2024-03-01T08:00:00.000+01:00"}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	spec, err := store.Get(ctx, "u1take_pillm")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if spec.Kind != jobstore.KindRecurringDaily {
		t.Fatalf("Kind = %s, want recurring-daily", spec.Kind)
	}
	if spec.Hour != 8 || spec.Minute != 0 || spec.Second != 0 {
		t.Fatalf("fire time = %d:%d:%d, want 8:0:0", spec.Hour, spec.Minute, spec.Second)
	}
	if spec.Payload.Label != "08:00 AM" {
		t.Fatalf("Label = %q, want 08:00 AM", spec.Payload.Label)
	}
	if spec.Payload.Fire != jobstore.FireTemplate {
		t.Fatalf("Fire = %s, want template", spec.Payload.Fire)
	}
	if spec.GraceSeconds != 30 {
		t.Fatalf("GraceSeconds = %d, want 30", spec.GraceSeconds)
	}

	// Re-setting replaces in place: one job, at the latest time.
	cmd.TimePoint = "2024-03-01T21:15:00.000+01:00"
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule replace: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if list[0].Hour != 21 || list[0].Minute != 15 {
		t.Fatalf("replaced time = %d:%d, want 21:15", list[0].Hour, list[0].Minute)
	}
	if list[0].Payload.Label != "09:15 PM" {
		t.Fatalf("replaced label = %q, want 09:15 PM", list[0].Payload.Label)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.added) != 2 {
		t.Fatalf("engine adds = %d, want 2", len(eng.added))
	}
}

func TestAppointmentCreatesPair(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cmd := Command{
		UserID: "u1", Intent: "visit", Qualifier: "a",
		TimePoint:   "2024-03-05T15:30:00.000+01:00",
		DisplayName: "Checkup",
	}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	wantLabel := "'Checkup' on Tue 2024-03-05 03:30 PM"

	main, err := store.Get(ctx, "u1visita")
	if err != nil {
		t.Fatalf("Get main: %v", err)
	}
	if main.Kind != jobstore.KindOneShot {
		t.Fatalf("main kind = %s", main.Kind)
	}
	if main.Year != 2024 || main.Month != 3 || main.Day != 5 || main.Hour != 15 || main.Minute != 30 {
		t.Fatalf("main due fields: %+v", main)
	}
	if main.Payload.Label != wantLabel {
		t.Fatalf("main label = %q, want %q", main.Payload.Label, wantLabel)
	}

	rem, err := store.Get(ctx, "u1visita#rem24")
	if err != nil {
		t.Fatalf("Get reminder: %v", err)
	}
	if rem.Year != 2024 || rem.Month != 3 || rem.Day != 4 || rem.Hour != 15 || rem.Minute != 30 {
		t.Fatalf("reminder due fields: %+v", rem)
	}
	if rem.Payload.Intent != "reminder" {
		t.Fatalf("reminder intent = %q, want reminder", rem.Payload.Intent)
	}
	if rem.Payload.Label != wantLabel {
		t.Fatalf("reminder label = %q, want shared %q", rem.Payload.Label, wantLabel)
	}
}

func TestSnoozeDuplicateRejected(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cmd := Command{UserID: "u1", Intent: "wake", Qualifier: "s", TimePoint: "2030-06-01T10:00:00.000+01:00"}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Schedule(ctx, cmd); !errors.Is(err, jobstore.ErrAlreadyExists) {
		t.Fatalf("duplicate snooze: %v, want ErrAlreadyExists", err)
	}
}

func TestScheduleRejectsBadTimestampBeforeMutation(t *testing.T) {
	t.Parallel()
	svc, store, eng := newTestService(t)
	ctx := context.Background()

	cmd := Command{UserID: "u1", Intent: "take_pill", Qualifier: "m", TimePoint: "2024-03-01 08:00"}
	if err := svc.Schedule(ctx, cmd); !errors.Is(err, timepoint.ErrBadTimestamp) {
		t.Fatalf("Schedule: %v, want ErrBadTimestamp", err)
	}
	if list, _ := store.List(ctx); len(list) != 0 {
		t.Fatalf("store mutated on parse failure: %v", list)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.added) != 0 {
		t.Fatal("engine touched on parse failure")
	}
}

func TestCancelAppointmentRemovesBothSlots(t *testing.T) {
	t.Parallel()
	svc, store, eng := newTestService(t)
	ctx := context.Background()

	cmd := Command{
		UserID: "u1", Intent: "visit", Qualifier: "a",
		TimePoint: "2024-03-05T15:30:00.000+01:00", DisplayName: "Checkup",
	}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Cancel(ctx, cmd); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if list, _ := store.List(ctx); len(list) != 0 {
		t.Fatalf("slots left after cancel: %v", list)
	}
	eng.mu.Lock()
	removed := len(eng.removed)
	eng.mu.Unlock()
	if removed != 2 {
		t.Fatalf("engine removals = %d, want 2", removed)
	}
}

func TestCancelAppointmentToleratesPartialAbsence(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cmd := Command{
		UserID: "u1", Intent: "visit", Qualifier: "a",
		TimePoint: "2024-03-05T15:30:00.000+01:00", DisplayName: "Checkup",
	}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	// Reminder already fired and removed itself.
	if err := store.Remove(ctx, "u1visita#rem24"); err != nil {
		t.Fatalf("Remove reminder: %v", err)
	}

	if err := svc.Cancel(ctx, cmd); err != nil {
		t.Fatalf("Cancel with one slot absent: %v", err)
	}

	// Both absent: the pair operation as a whole is not found.
	if err := svc.Cancel(ctx, cmd); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("Cancel absent pair: %v, want ErrNotFound", err)
	}
}

func TestCancelMedicationNotFound(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	cmd := Command{UserID: "u9", Intent: "take_pill", Qualifier: "m"}
	if err := svc.Cancel(context.Background(), cmd); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("Cancel: %v, want ErrNotFound", err)
	}
}

func TestQueryAppointmentAlwaysTwoSlots(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cmd := Command{UserID: "u1", Intent: "visit", Qualifier: "a"}

	// Nothing scheduled: two absent sentinels, not an error.
	desc, err := svc.Query(ctx, cmd)
	if err != nil {
		t.Fatalf("Query empty: %v", err)
	}
	if len(desc.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(desc.Slots))
	}
	for _, slot := range desc.Slots {
		if slot.Scheduled || slot.Label != "" {
			t.Fatalf("expected absent sentinel, got %+v", slot)
		}
	}

	// One of two scheduled: still exactly two slots.
	cmd.TimePoint = "2024-03-05T15:30:00.000+01:00"
	cmd.DisplayName = "Checkup"
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := store.Remove(ctx, "u1visita#rem24"); err != nil {
		t.Fatalf("Remove reminder: %v", err)
	}
	desc, err = svc.Query(ctx, cmd)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(desc.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(desc.Slots))
	}
	if !desc.Slots[0].Scheduled || desc.Slots[1].Scheduled {
		t.Fatalf("slot states: %+v", desc.Slots)
	}
	if desc.Slots[0].Label != "'Checkup' on Tue 2024-03-05 03:30 PM" {
		t.Fatalf("label = %q", desc.Slots[0].Label)
	}
}

func TestQueryMedicationSingleSlot(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cmd := Command{UserID: "u1", Intent: "take_pill", Qualifier: "m", TimePoint: "2024-03-01T08:00:00.000+01:00"}
	if err := svc.Schedule(ctx, cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	desc, err := svc.Query(ctx, cmd)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(desc.Slots) != 1 || !desc.Slots[0].Scheduled || desc.Slots[0].Label != "08:00 AM" {
		t.Fatalf("descriptor = %+v", desc)
	}
}

// Grace window sanity: specs stamp 30s by default, and the window math the
// engine applies (due + grace) honors the 08:00:29 fires / 08:00:31 skips
// boundary.
func TestDefaultGraceWindow(t *testing.T) {
	t.Parallel()
	g := Config{}.graceSeconds()
	if g != 30 {
		t.Fatalf("default grace = %ds, want 30", g)
	}
	if got := (Config{MisfireGrace: 10 * time.Second}).graceSeconds(); got != 10 {
		t.Fatalf("grace = %ds, want 10", got)
	}
}
