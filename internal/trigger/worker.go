package trigger

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"ayod/internal/eventbus"
	"ayod/internal/jobstore"
	logx "ayod/pkg/logx"
)

// storeOpTimeout bounds post-fire store mutations (removal, reschedule
// audit) so a wedged store cannot pin a worker forever.
const storeOpTimeout = 5 * time.Second

func (e *Engine) worker(runCtx context.Context, stopCh <-chan struct{}, queue <-chan firing, idx int) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in trigger worker",
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-runCtx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-runCtx.Done():
			return
		case <-stopCh:
			return
		case f := <-queue:
			e.execOne(runCtx, f)
		}
	}
}

// execOne drives one due occurrence: at most one fire, then removal
// (one-shot) or reschedule (recurring).
func (e *Engine) execOne(runCtx context.Context, f firing) {
	now := time.Now()

	// Cancelled while queued: no fire-after-cancel.
	e.mu.Lock()
	live := e.gens[f.spec.ID] == f.gen
	e.mu.Unlock()
	if !live {
		e.log.Debug("occurrence cancelled before fire", logx.String("id", f.spec.ID))
		return
	}

	// Queue backlog can also blow the grace window.
	if late := now.Sub(f.dueAt); late > grace(f.spec) {
		e.misfire(f.spec, f.dueAt, f.gen, late)
		return
	}

	fireErr := e.fire(runCtx, f.spec)

	at := time.Now()
	rec := jobstore.FireRecord{JobID: f.spec.ID, DueAt: f.dueAt, FiredAt: at, Outcome: jobstore.OutcomeFired}
	if fireErr != nil {
		// Delivery failures are the capability's concern: logged and
		// recorded, never retried, and they do not block removal or
		// rescheduling.
		rec.Outcome = jobstore.OutcomeDeliveryFailed
		rec.Err = fireErr.Error()
		e.log.Error("fire delivery failed",
			logx.String("id", f.spec.ID),
			logx.String("user", f.spec.Payload.UserID),
			logx.Err(fireErr))
	} else {
		e.log.Info("job fired",
			logx.String("id", f.spec.ID),
			logx.String("kind", string(f.spec.Kind)),
			logx.Time("due", f.dueAt))
	}

	sctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := e.store.AppendFire(sctx, rec); err != nil {
		e.log.Error("fire audit append failed", logx.String("id", f.spec.ID), logx.Err(err))
	}

	info := FireInfo{
		ID: f.spec.ID, Kind: string(f.spec.Kind), Label: f.spec.Payload.Label,
		DueAt: f.dueAt, At: at, Err: rec.Err,
	}
	e.publish(eventbus.TypeJobFired, info)

	switch f.spec.Kind {
	case jobstore.KindOneShot:
		if err := e.store.Remove(sctx, f.spec.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			e.log.Error("one-shot removal after fire failed", logx.String("id", f.spec.ID), logx.Err(err))
		}
	case jobstore.KindRecurringDaily:
		e.rescheduleRecurring(f.spec, f.dueAt, f.gen)
	}
}

func (e *Engine) fire(ctx context.Context, spec jobstore.JobSpec) error {
	if spec.Payload.Fire == jobstore.FireTemplate {
		return e.firer.FireTemplate(ctx, spec.Payload.UserID)
	}
	return e.firer.FireIntent(ctx, spec.Payload.UserID, spec.Payload.Intent, spec.Payload.Qualifier)
}

// misfire skips an occurrence observed beyond its grace window. Recurring
// jobs stay scheduled for the next day; one-shot jobs are dropped.
func (e *Engine) misfire(spec jobstore.JobSpec, dueAt time.Time, gen uint64, late time.Duration) {
	now := time.Now()
	e.log.Warn("occurrence missed beyond grace; skipping",
		logx.String("id", spec.ID),
		logx.Time("due", dueAt),
		logx.Duration("late", late),
		logx.Int("grace_secs", spec.GraceSeconds))

	sctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := e.store.AppendFire(sctx, jobstore.FireRecord{
		JobID: spec.ID, DueAt: dueAt, FiredAt: now,
		Outcome: jobstore.OutcomeMisfired, Err: "beyond grace window",
	}); err != nil {
		e.log.Error("fire audit append failed", logx.String("id", spec.ID), logx.Err(err))
	}
	e.publish(eventbus.TypeJobMisfired, FireInfo{
		ID: spec.ID, Kind: string(spec.Kind), Label: spec.Payload.Label,
		DueAt: dueAt, At: now, Err: "beyond grace window",
	})

	switch spec.Kind {
	case jobstore.KindOneShot:
		if err := e.store.Remove(sctx, spec.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			e.log.Error("one-shot removal after misfire failed", logx.String("id", spec.ID), logx.Err(err))
		}
	case jobstore.KindRecurringDaily:
		e.rescheduleRecurring(spec, dueAt, gen)
	}
}

// rescheduleRecurring pushes the next daily occurrence unless the job was
// cancelled or replaced while this occurrence was in flight.
func (e *Engine) rescheduleRecurring(spec jobstore.JobSpec, dueAt time.Time, gen uint64) {
	next := e.nextDaily(dueAt)

	e.mu.Lock()
	if e.gens[spec.ID] != gen {
		e.mu.Unlock()
		return
	}
	e.pushLocked(spec, next)
	e.mu.Unlock()

	e.signalRecompute()
	e.log.Debug("recurring job rescheduled",
		logx.String("id", spec.ID),
		logx.Time("next", next))
}
