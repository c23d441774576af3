package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type claimSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically removes expired claims so Redis does not accumulate them.
// Correctness never depends on it: readers already ignore expired entries.
type Sweeper struct {
	target   claimSweeper
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
	cron     *cron.Cron
}

func NewSweeper(target claimSweeper, schedule string, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		target:   target,
		schedule: schedule,
		timeout:  5 * time.Second,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// RunOnce performs a single sweep at the current time.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := s.target.Sweep(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("swept expired claims")
	}
	return removed, nil
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("claim sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("claim sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
