package app

import (
	"context"

	"ayod/internal/tracker"
	logx "ayod/pkg/logx"
)

// firer is what the trigger engine dispatches through.
type firer interface {
	FireIntent(ctx context.Context, userID, intent, qualifier string) error
	FireTemplate(ctx context.Context, userID string) error
}

// countingFirer forwards fires to the notifier and bumps the per-user
// medication counter on each successful template delivery. Counting
// failures never fail the fire itself.
type countingFirer struct {
	next  firer
	track *tracker.Service
	log   logx.Logger
}

func (c *countingFirer) FireIntent(ctx context.Context, userID, intent, qualifier string) error {
	return c.next.FireIntent(ctx, userID, intent, qualifier)
}

func (c *countingFirer) FireTemplate(ctx context.Context, userID string) error {
	if err := c.next.FireTemplate(ctx, userID); err != nil {
		return err
	}
	if c.track != nil {
		if err := c.track.CountMedicationFire(ctx, userID); err != nil {
			c.log.Warn("medication fire count failed", logx.String("user", userID), logx.Err(err))
		}
	}
	return nil
}
