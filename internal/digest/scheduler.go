package digest

import (
	"context"
	"time"

	"adt-bridge/internal/observability"

	"github.com/sirupsen/logrus"
)

// Scheduler runs the generator once per day at a configured hour. One loop
// instance per process; generation failures are logged and the next period
// still runs.
type Scheduler struct {
	generator *Generator
	hour      int
	logger    *logrus.Logger
	now       func() time.Time
}

func NewScheduler(generator *Generator, hour int) *Scheduler {
	return &Scheduler{
		generator: generator,
		hour:      hour,
		logger:    observability.GetLogger(),
		now:       time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithField("hour", s.hour).Info("Digest scheduler starting")

	for {
		now := s.now()
		next := s.nextRun(now)
		s.logger.WithFields(logrus.Fields{
			"next_run": next,
			"in":       next.Sub(now).Round(time.Minute),
		}).Info("Next digest scheduled")

		select {
		case <-ctx.Done():
			s.logger.Info("Digest scheduler stopping")
			return
		case <-time.After(next.Sub(now)):
		}

		if _, err := s.generator.Generate(ctx); err != nil {
			s.logger.WithError(err).Error("Digest generation failed")
		}
	}
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, now.Location())
	if now.Hour() >= s.hour {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
