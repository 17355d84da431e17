package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"ayod/internal/config"
	"ayod/internal/jobstore"
	logx "ayod/pkg/logx"
)

const (
	defaultSweepSpec = "@daily"
	defaultRetention = 30 * 24 * time.Hour
)

// sweeper prunes old fire-audit rows on a cron schedule.
type sweeper struct {
	cron      *cron.Cron
	store     jobstore.Store
	retention time.Duration
	log       logx.Logger
}

func newSweeper(cfg *config.MaintenanceConfig, store jobstore.Store, log logx.Logger) (*sweeper, error) {
	if cfg == nil {
		return nil, nil
	}
	spec := cfg.Spec
	if spec == "" {
		spec = defaultSweepSpec
	}
	retention, err := config.ParseDurationOrDefault("maintenance.retention", cfg.Retention, defaultRetention)
	if err != nil {
		return nil, err
	}

	s := &sweeper{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		log:       log,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sweeper) start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.log.Info("audit sweeper started", logx.Duration("retention", s.retention))
}

func (s *sweeper) stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	n, err := s.store.PruneFires(ctx, cutoff)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	s.log.Info("audit rows pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
}
