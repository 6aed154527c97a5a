package reconcile

import (
	"context"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// easternFallback is used when tzdata is missing from the container.
var easternFallback = time.FixedZone("EST", -5*60*60)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return easternFallback
	}
	return loc
}

// Reconciler is the subset of the engine driven by the scheduler.
type Reconciler interface {
	Reconcile(ctx context.Context, trigger models.Trigger) (*models.RebalanceResult, error)
}

// Scheduler fires the daily check and the weekly full rebalance in the
// configured timezone. On the weekly day the weekly pass replaces the daily one.
type Scheduler struct {
	engine    Reconciler
	loc       *time.Location
	hour      int
	weeklyDay time.Weekday
	interval  time.Duration
	logger    *common.Logger
	now       func() time.Time

	lastRun string // date (in loc) of the last scheduled pass
}

// NewScheduler creates a scheduler from the rebalance config section.
func NewScheduler(engine Reconciler, cfg *common.RebalanceConfig, logger *common.Logger) *Scheduler {
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	hour := cfg.DailyHour
	if hour < 0 || hour > 23 {
		hour = 8
	}
	return &Scheduler{
		engine:    engine,
		loc:       mustLoadLocation(tz),
		hour:      hour,
		weeklyDay: cfg.GetWeeklyDay(),
		interval:  time.Minute,
		logger:    logger,
		now:       time.Now,
	}
}

// Run checks the clock every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("timezone", s.loc.String()).
		Int("hour", s.hour).
		Str("weekly_day", s.weeklyDay.String()).
		Msg("Rebalance scheduler: started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Rebalance scheduler: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// due returns the trigger for t, or "" when nothing should run.
func (s *Scheduler) due(t time.Time) models.Trigger {
	local := t.In(s.loc)
	if local.Hour() != s.hour {
		return ""
	}
	if local.Format("2006-01-02") == s.lastRun {
		return ""
	}
	if local.Weekday() == s.weeklyDay {
		return models.TriggerWeekly
	}
	return models.TriggerDaily
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	trigger := s.due(now)
	if trigger == "" {
		return
	}
	s.lastRun = now.In(s.loc).Format("2006-01-02")

	start := time.Now()
	result, err := s.engine.Reconcile(ctx, trigger)
	if err != nil {
		s.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("Scheduled rebalance failed")
		return
	}
	s.logger.Info().
		Str("trigger", string(trigger)).
		Bool("executed", result.Executed).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled rebalance: complete")
}
