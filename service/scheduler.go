package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ExpiryCheckInterval is how often the session expiry sweep runs.
const ExpiryCheckInterval = time.Minute

// Scheduler runs periodic jobs. A job still running when its next tick arrives
// is skipped, and panics are recovered.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewScheduler(log logrus.FieldLogger) *Scheduler {
	log = componentLogger(log, "scheduler")
	logger := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		log: log,
	}
}

// Every registers fn to run on a fixed interval.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "interval": interval}).Debug("job scheduled")
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// ScheduleExpiryCheck sweeps expired sessions once per ExpiryCheckInterval.
func ScheduleExpiryCheck(s *Scheduler, sessions *SessionService) error {
	return s.Every(ExpiryCheckInterval, "session-expiry", func(ctx context.Context) {
		sessions.CheckExpiry(ctx)
	})
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []any) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
