package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ayod/internal/eventbus"
	"ayod/internal/jobstore"
	logx "ayod/pkg/logx"
)

// Engine owns the wake schedule. It must be explicitly constructed and
// started by the composition root; there is no process-global instance.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store jobstore.Store
	firer Firer
	bus   eventbus.Bus
	loc   *time.Location

	// Guarded by mu. gens maps id -> current generation; heap entries
	// carry the generation they were pushed under, and any entry whose
	// generation fell behind is discarded at pop time. Generations only
	// ever grow within a process run so a cancelled occurrence can never
	// be confused with a later job reusing the same id.
	heap dueHeap
	gens map[string]uint64
	seq  uint64

	recompute chan struct{}
	queue     chan firing
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New creates an engine over the given store and fire capability.
// Calendar math uses loc, the fixed operating zone.
func New(cfg Config, store jobstore.Store, firer Firer, loc *time.Location, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		firer: firer,
		bus:   bus,
		loc:   loc,
		gens:  map[string]uint64{},
	}
}

// Start reloads all stored specs, rebuilds the wake schedule, and spawns
// the wake loop plus the worker pool. One-shot jobs whose due instant
// passed beyond grace while the process was down are abandoned here,
// before any new fires are accepted.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("trigger: engine already started")
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.recompute = make(chan struct{}, 1)
	e.queue = make(chan firing, e.cfg.QueueSize)
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	e.heap = nil
	e.mu.Unlock()

	specs, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("trigger: reload specs: %w", err)
	}

	now := time.Now()
	loaded, abandoned := 0, 0
	for _, spec := range specs {
		due, ok := e.dueAtReload(spec, now)
		if !ok {
			abandoned++
			e.abandonAtReload(ctx, spec, due, now)
			continue
		}
		e.mu.Lock()
		e.pushLocked(spec, due)
		e.mu.Unlock()
		loaded++
	}

	// Local captures prevent races if fields are swapped during a later
	// Stop()/Start() cycle.
	runCtx, stopCh, queue, recompute := e.runCtx, e.stopCh, e.queue, e.recompute
	workers := e.cfg.Workers
	e.wg.Add(workers + 1)
	go func() {
		defer e.wg.Done()
		e.loop(runCtx, stopCh, queue, recompute)
	}()
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer e.wg.Done()
			e.worker(runCtx, stopCh, queue, idx)
		}()
	}

	e.log.Info("trigger engine started",
		logx.Int("workers", workers),
		logx.Int("jobs", loaded),
		logx.Int("abandoned", abandoned),
		logx.String("tz", e.loc.String()))
	return nil
}

// Stop signals the loop and workers and waits for them (bounded by ctx).
// An in-flight fire call is not aborted beyond runCtx cancellation.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	stopCh := e.stopCh
	cancel := e.runCancel
	e.mu.Unlock()

	close(stopCh)
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("trigger engine stopped")
	case <-ctx.Done():
		e.log.Warn("trigger engine stop timed out; continuing in background")
	}
}

// Add schedules (or re-schedules, after a replace) the spec. The caller
// has already persisted it; Add only updates the in-memory wake set. A
// job earlier than the current wake target shortens the sleep.
func (e *Engine) Add(spec jobstore.JobSpec) {
	due := e.nextDue(spec, time.Now())

	e.mu.Lock()
	e.gens[spec.ID]++ // invalidate any previous occurrence of this id
	e.pushLocked(spec, due)
	e.mu.Unlock()

	e.signalRecompute()
	e.publish(eventbus.TypeJobScheduled, FireInfo{
		ID: spec.ID, Kind: string(spec.Kind), Label: spec.Payload.Label, DueAt: due,
	})
	e.log.Debug("job scheduled",
		logx.String("id", spec.ID),
		logx.String("kind", string(spec.Kind)),
		logx.Time("due", due))
}

// Remove prevents any pending occurrence of id from firing. The caller
// owns the store removal; a due instant already computed but not yet
// fired is invalidated here (no fire-after-cancel).
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	e.gens[id]++
	e.mu.Unlock()

	e.signalRecompute()
	e.publish(eventbus.TypeJobRemoved, FireInfo{ID: id})
	e.log.Debug("job removed from wake set", logx.String("id", id))
}

// Snapshot returns the live pending occurrences ordered by due instant.
func (e *Engine) Snapshot() []JobStatus {
	e.mu.Lock()
	out := make([]JobStatus, 0, len(e.heap))
	for _, ent := range e.heap {
		if ent.gen != e.gens[ent.spec.ID] {
			continue
		}
		out = append(out, JobStatus{
			ID:      ent.spec.ID,
			Kind:    string(ent.spec.Kind),
			Label:   ent.spec.Payload.Label,
			NextDue: ent.dueAt,
		})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NextDue.Before(out[j].NextDue) })
	return out
}

// ---- wake loop ----

func (e *Engine) loop(runCtx context.Context, stopCh <-chan struct{}, queue chan firing, recompute <-chan struct{}) {
	for {
		var batch []entry
		wait := time.Duration(-1)
		now := time.Now()

		e.mu.Lock()
		for e.heap.Len() > 0 {
			top := e.heap.peek()
			if top.gen != e.gens[top.spec.ID] {
				e.heap.popEntry()
				continue
			}
			if top.dueAt.After(now) {
				wait = top.dueAt.Sub(now)
				break
			}
			batch = append(batch, e.heap.popEntry())
		}
		e.mu.Unlock()

		for _, ent := range batch {
			e.dispatch(runCtx, stopCh, queue, ent)
		}
		if len(batch) > 0 {
			// Dispatching took time; re-derive before sleeping.
			continue
		}

		var timer *time.Timer
		var timerCh <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerCh = timer.C
		}
		select {
		case <-stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-timerCh:
		case <-recompute:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

func (e *Engine) dispatch(runCtx context.Context, stopCh <-chan struct{}, queue chan firing, ent entry) {
	now := time.Now()
	if late := now.Sub(ent.dueAt); late > grace(ent.spec) {
		e.misfire(ent.spec, ent.dueAt, ent.gen, late)
		return
	}
	// Blocking here means waiting for a worker slot, never for the fire
	// call itself.
	select {
	case queue <- firing{spec: ent.spec, dueAt: ent.dueAt, gen: ent.gen}:
	case <-stopCh:
	case <-runCtx.Done():
	}
}

func (e *Engine) signalRecompute() {
	e.mu.Lock()
	ch := e.recompute
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ---- due computation ----

// nextDue derives the first due instant at or after now.
func (e *Engine) nextDue(spec jobstore.JobSpec, now time.Time) time.Time {
	if spec.Kind == jobstore.KindOneShot {
		return time.Date(spec.Year, time.Month(spec.Month), spec.Day,
			spec.Hour, spec.Minute, spec.Second, 0, e.loc)
	}
	local := now.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(),
		spec.Hour, spec.Minute, spec.Second, 0, e.loc)
	if today.Before(now) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// nextDaily is the following day's occurrence at the same wall time.
func (e *Engine) nextDaily(dueAt time.Time) time.Time {
	d := dueAt.In(e.loc)
	return time.Date(d.Year(), d.Month(), d.Day()+1,
		d.Hour(), d.Minute(), d.Second(), 0, e.loc)
}

// dueAtReload derives the due instant for a spec reloaded after restart.
// ok=false means the occurrence is unrecoverable (one-shot past grace).
func (e *Engine) dueAtReload(spec jobstore.JobSpec, now time.Time) (time.Time, bool) {
	if spec.Kind == jobstore.KindOneShot {
		due := time.Date(spec.Year, time.Month(spec.Month), spec.Day,
			spec.Hour, spec.Minute, spec.Second, 0, e.loc)
		if now.Sub(due) > grace(spec) {
			return due, false
		}
		return due, true
	}

	local := now.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(),
		spec.Hour, spec.Minute, spec.Second, 0, e.loc)
	if today.After(now) {
		return today, true
	}
	if now.Sub(today) <= grace(spec) {
		// Still inside the grace window: today's occurrence fires
		// immediately after reload.
		return today, true
	}
	return today.AddDate(0, 0, 1), true
}

// abandonAtReload records a one-shot occurrence missed beyond grace
// during downtime, and drops the spec. Never queued for catch-up.
func (e *Engine) abandonAtReload(ctx context.Context, spec jobstore.JobSpec, due, now time.Time) {
	e.log.Warn("one-shot job missed during downtime; abandoning",
		logx.String("id", spec.ID),
		logx.Time("due", due),
		logx.Duration("late", now.Sub(due)))
	if err := e.store.AppendFire(ctx, jobstore.FireRecord{
		JobID: spec.ID, DueAt: due, FiredAt: now,
		Outcome: jobstore.OutcomeMisfired, Err: "missed during downtime",
	}); err != nil {
		e.log.Error("fire audit append failed", logx.String("id", spec.ID), logx.Err(err))
	}
	if err := e.store.Remove(ctx, spec.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		e.log.Error("abandoned job removal failed", logx.String("id", spec.ID), logx.Err(err))
	}
	e.publish(eventbus.TypeJobMisfired, FireInfo{
		ID: spec.ID, Kind: string(spec.Kind), Label: spec.Payload.Label,
		DueAt: due, At: now, Err: "missed during downtime",
	})
}

// ---- shared state helpers ----

func (e *Engine) pushLocked(spec jobstore.JobSpec, due time.Time) {
	e.seq++
	e.heap.pushEntry(entry{dueAt: due, seq: e.seq, gen: e.gens[spec.ID], spec: spec})
}

func (e *Engine) publish(typ string, info FireInfo) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: info})
}

// FireInfo is the event payload published on the bus for job lifecycle
// transitions; the status/history layer consumes it.
type FireInfo struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind,omitempty"`
	Label string    `json:"label,omitempty"`
	DueAt time.Time `json:"due_at,omitempty"`
	At    time.Time `json:"at,omitempty"`
	Err   string    `json:"err,omitempty"`
}
