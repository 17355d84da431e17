package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "ayod/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func sampleSpec(id string) JobSpec {
	return JobSpec{
		ID:   id,
		Kind: KindRecurringDaily,
		Hour: 8, Minute: 0, Second: 0,
		Payload: Payload{
			UserID: "u1", Intent: "take_pill", Qualifier: "m",
			Fire: FireTemplate, Label: "08:00 AM",
		},
		GraceSeconds: 30,
	}
}

func TestPutGetRemove(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec := sampleSpec("u1take_pillm")

			if err := st.Put(ctx, spec, true); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := st.Get(ctx, spec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Kind != KindRecurringDaily || got.Hour != 8 {
				t.Fatalf("unexpected spec: %+v", got)
			}
			if got.Payload.Label != "08:00 AM" || got.Payload.Fire != FireTemplate {
				t.Fatalf("unexpected payload: %+v", got.Payload)
			}
			if got.GraceSeconds != 30 {
				t.Fatalf("GraceSeconds = %d, want 30", got.GraceSeconds)
			}

			if err := st.Remove(ctx, spec.ID); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, err := st.Get(ctx, spec.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after remove: %v, want ErrNotFound", err)
			}
			if err := st.Remove(ctx, spec.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Remove absent: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPutReplaceSemantics(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec := sampleSpec("u1take_pillm")
			if err := st.Put(ctx, spec, true); err != nil {
				t.Fatalf("Put: %v", err)
			}

			// replace=false must leave the existing row alone.
			dup := spec
			dup.Hour = 9
			if err := st.Put(ctx, dup, false); !errors.Is(err, ErrAlreadyExists) {
				t.Fatalf("Put dup: %v, want ErrAlreadyExists", err)
			}
			got, err := st.Get(ctx, spec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Hour != 8 {
				t.Fatalf("Hour = %d after rejected put, want 8", got.Hour)
			}

			// replace=true overwrites in place.
			dup.Payload.Label = "09:00 AM"
			if err := st.Put(ctx, dup, true); err != nil {
				t.Fatalf("Put replace: %v", err)
			}
			got, err = st.Get(ctx, spec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Hour != 9 || got.Payload.Label != "09:00 AM" {
				t.Fatalf("replace did not apply: %+v", got)
			}

			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("len(list) = %d, want 1", len(list))
			}
		})
	}
}

func TestListReturnsAllSpecs(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := sampleSpec("u1visita")
			a.Kind = KindOneShot
			a.Year, a.Month, a.Day = 2024, 3, 5
			b := sampleSpec("u1visita#rem24")
			b.Kind = KindOneShot
			b.Year, b.Month, b.Day = 2024, 3, 4

			if err := st.Put(ctx, a, true); err != nil {
				t.Fatalf("Put a: %v", err)
			}
			if err := st.Put(ctx, b, true); err != nil {
				t.Fatalf("Put b: %v", err)
			}

			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("len(list) = %d, want 2", len(list))
			}
		})
	}
}

func TestFireAuditPrune(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			old := FireRecord{JobID: "a", DueAt: now, FiredAt: now.Add(-48 * time.Hour), Outcome: OutcomeFired}
			recent := FireRecord{JobID: "b", DueAt: now, FiredAt: now, Outcome: OutcomeMisfired, Err: "late"}

			if err := st.AppendFire(ctx, old); err != nil {
				t.Fatalf("AppendFire old: %v", err)
			}
			if err := st.AppendFire(ctx, recent); err != nil {
				t.Fatalf("AppendFire recent: %v", err)
			}

			n, err := st.PruneFires(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("PruneFires: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned = %d, want 1", n)
			}
		})
	}
}
