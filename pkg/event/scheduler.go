package event

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Publishing is implemented by Publisher.
type Publishing interface {
	Publish(ctx context.Context, ev Event) error
}

// Scheduler publishes a TimeTrigger for the current time on every tick.
type Scheduler struct {
	pub      Publishing
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewScheduler(pub Publishing, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		pub:      pub,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Tick publishes one time trigger.
func (s *Scheduler) Tick(ctx context.Context) error {
	ev := TimeTrigger{Timestamp: s.now().UTC()}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Msg("publish time trigger")
		return err
	}
	return nil
}

// Run ticks until ctx is done. interval <= 0 disables it.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Tick(ctx)
		}
	}
}
