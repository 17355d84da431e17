package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ayod/internal/jobstore"
	"ayod/internal/timepoint"
	logx "ayod/pkg/logx"
)

// labelTimeOnly renders the medication display label, e.g. "08:00 AM".
const labelTimeOnly = "03:04 PM"

// labelDayAndTime renders the appointment display label's date part,
// e.g. "Tue 2024-03-05 03:30 PM".
const labelDayAndTime = "Mon 2006-01-02 03:04 PM"

// wakeScheduler is the slice of the trigger engine the facade needs.
type wakeScheduler interface {
	Add(spec jobstore.JobSpec)
	Remove(id string)
}

// Service composes resolver, store and engine into the schedule / cancel
// / query operations. All failures surface as typed values; nothing
// escapes as an unhandled fault.
type Service struct {
	cfg      Config
	log      logx.Logger
	resolver *timepoint.Resolver
	store    jobstore.Store
	engine   wakeScheduler
}

func New(cfg Config, resolver *timepoint.Resolver, store jobstore.Store, engine wakeScheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		resolver: resolver,
		store:    store,
		engine:   engine,
	}
}

// Schedule creates the job(s) for cmd. The timestamp is resolved first:
// a malformed one rejects the whole command before any store mutation.
func (s *Service) Schedule(ctx context.Context, cmd Command) error {
	kind, err := KindOf(cmd.Qualifier)
	if err != nil {
		return err
	}
	point, err := s.resolver.Resolve(cmd.TimePoint)
	if err != nil {
		return err
	}

	switch kind {
	case KindMedication:
		return s.scheduleMedication(ctx, cmd, point)
	case KindAppointment:
		return s.scheduleAppointment(ctx, cmd, point)
	case KindSnooze:
		return s.scheduleSnooze(ctx, cmd, point)
	}
	return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// scheduleMedication registers the daily recurring reminder. Re-setting
// the same (user, intent, qualifier) replaces the prior time in place.
func (s *Service) scheduleMedication(ctx context.Context, cmd Command, p timepoint.Point) error {
	spec := jobstore.JobSpec{
		ID:   cmd.BaseID(),
		Kind: jobstore.KindRecurringDaily,
		Hour: p.Hour, Minute: p.Minute, Second: p.Second,
		Payload: jobstore.Payload{
			UserID:    cmd.UserID,
			Intent:    cmd.Intent,
			Qualifier: cmd.Qualifier,
			Fire:      jobstore.FireTemplate,
			Label:     p.Instant.Format(labelTimeOnly),
		},
		GraceSeconds: s.cfg.graceSeconds(),
	}
	if err := s.store.Put(ctx, spec, true); err != nil {
		return fmt.Errorf("medication schedule: %w", err)
	}
	s.engine.Add(spec)
	s.log.Info("medication reminder scheduled",
		logx.String("id", spec.ID),
		logx.String("at", spec.Payload.Label))
	return nil
}

// scheduleAppointment registers the one-shot pair: the event itself and
// its reminder 24 hours prior, sharing one display label. The two store
// calls are not transactional; a failed second call leaves a detectable
// partially-applied state and is reported as ErrPairPartial.
func (s *Service) scheduleAppointment(ctx context.Context, cmd Command, p timepoint.Point) error {
	base := cmd.BaseID()
	label := fmt.Sprintf("'%s' on %s", cmd.DisplayName, p.Instant.Format(labelDayAndTime))

	main := oneShot(base, p, jobstore.Payload{
		UserID:    cmd.UserID,
		Intent:    cmd.Intent,
		Qualifier: cmd.Qualifier,
		Fire:      jobstore.FireIntent,
		Label:     label,
	}, s.cfg.graceSeconds())

	remPoint := s.resolver.Add(p, -24*time.Hour)
	reminder := oneShot(ReminderID(base), remPoint, jobstore.Payload{
		UserID:    cmd.UserID,
		Intent:    "reminder",
		Qualifier: cmd.Qualifier,
		Fire:      jobstore.FireIntent,
		Label:     label,
	}, s.cfg.graceSeconds())

	if err := s.store.Put(ctx, main, true); err != nil {
		return fmt.Errorf("appointment schedule: %w", err)
	}
	s.engine.Add(main)

	if err := s.store.Put(ctx, reminder, true); err != nil {
		s.log.Error("appointment reminder not stored; pair is partially applied",
			logx.String("main", main.ID),
			logx.String("reminder", reminder.ID),
			logx.Err(err))
		return fmt.Errorf("%w: reminder store failed: %v", ErrPairPartial, err)
	}
	s.engine.Add(reminder)

	s.log.Info("appointment pair scheduled",
		logx.String("id", base),
		logx.String("label", label))
	return nil
}

// scheduleSnooze registers a single one-shot. A duplicate snooze for the
// same id is unexpected and surfaces as ErrAlreadyExists, never a silent
// overwrite.
func (s *Service) scheduleSnooze(ctx context.Context, cmd Command, p timepoint.Point) error {
	spec := oneShot(cmd.BaseID(), p, jobstore.Payload{
		UserID:    cmd.UserID,
		Intent:    cmd.Intent,
		Qualifier: cmd.Qualifier,
		Fire:      jobstore.FireIntent,
	}, s.cfg.graceSeconds())

	if err := s.store.Put(ctx, spec, false); err != nil {
		return fmt.Errorf("snooze schedule: %w", err)
	}
	s.engine.Add(spec)
	s.log.Info("snooze scheduled",
		logx.String("id", spec.ID),
		logx.Time("at", p.Instant))
	return nil
}

func oneShot(id string, p timepoint.Point, payload jobstore.Payload, graceSecs int) jobstore.JobSpec {
	return jobstore.JobSpec{
		ID:   id,
		Kind: jobstore.KindOneShot,
		Year: p.Year, Month: p.Month, Day: p.Day,
		Hour: p.Hour, Minute: p.Minute, Second: p.Second,
		Payload:      payload,
		GraceSeconds: graceSecs,
	}
}

// Cancel removes the command's job(s). Appointment kind removes both
// slots unconditionally; a single absent slot is not an error for the
// pair as a whole, only both-absent is reported as not found.
func (s *Service) Cancel(ctx context.Context, cmd Command) error {
	kind, err := KindOf(cmd.Qualifier)
	if err != nil {
		return err
	}
	base := cmd.BaseID()

	if kind != KindAppointment {
		if err := s.store.Remove(ctx, base); err != nil {
			if errors.Is(err, jobstore.ErrNotFound) {
				return err
			}
			return fmt.Errorf("cancel %s: %w", base, err)
		}
		s.engine.Remove(base)
		s.log.Info("job cancelled", logx.String("id", base))
		return nil
	}

	slots := AppointmentSlotIDs(base)
	var removed int
	var storeErr error
	for _, id := range slots {
		err := s.store.Remove(ctx, id)
		switch {
		case err == nil:
			s.engine.Remove(id)
			removed++
		case errors.Is(err, jobstore.ErrNotFound):
			s.log.Debug("appointment slot already absent", logx.String("id", id))
		default:
			storeErr = err
			s.log.Error("appointment slot removal failed", logx.String("id", id), logx.Err(err))
		}
	}
	if storeErr != nil {
		if removed > 0 {
			return fmt.Errorf("%w: %v", ErrPairPartial, storeErr)
		}
		return fmt.Errorf("cancel %s: %w", base, storeErr)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", jobstore.ErrNotFound, base)
	}
	s.log.Info("appointment pair cancelled", logx.String("id", base), logx.Int("removed", removed))
	return nil
}

// Query reports what is scheduled for the command's id. Appointment
// queries always return exactly two slots, absent ones as sentinels.
func (s *Service) Query(ctx context.Context, cmd Command) (Descriptor, error) {
	kind, err := KindOf(cmd.Qualifier)
	if err != nil {
		return Descriptor{}, err
	}
	base := cmd.BaseID()

	if kind != KindAppointment {
		slot, err := s.querySlot(ctx, base)
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: kind, Slots: []Slot{slot}}, nil
	}

	ids := AppointmentSlotIDs(base)
	slots := make([]Slot, 0, len(ids))
	for _, id := range ids {
		slot, err := s.querySlot(ctx, id)
		if err != nil {
			return Descriptor{}, err
		}
		slots = append(slots, slot)
	}
	return Descriptor{Kind: kind, Slots: slots}, nil
}

func (s *Service) querySlot(ctx context.Context, id string) (Slot, error) {
	spec, err := s.store.Get(ctx, id)
	if errors.Is(err, jobstore.ErrNotFound) {
		return Slot{ID: id}, nil
	}
	if err != nil {
		return Slot{}, fmt.Errorf("query %s: %w", id, err)
	}
	return Slot{ID: id, Scheduled: true, Label: spec.Payload.Label}, nil
}
