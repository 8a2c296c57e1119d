package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/sentinel/backend/internal/logger"
)

// Cron schedules retention and maintenance jobs using standard cron specs
// (descriptors such as "@daily" are accepted).
type Cron struct {
	c   *cron.Cron
	ctx context.Context
}

// NewCron builds a cron runner whose jobs receive ctx and recover from panics.
func NewCron(ctx context.Context) *Cron {
	l := cronLogger{entry: logger.Source("cron")}
	return &Cron{
		c:   cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		ctx: ctx,
	}
}

// Add registers a named job.
func (s *Cron) Add(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.c.AddFunc(spec, func() {
		logger.Source("cron").WithField("job", name).Debug("running job")
		fn(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Cron) Len() int { return len(s.c.Entries()) }

// Start runs the scheduler in its own goroutine.
func (s *Cron) Start() { s.c.Start() }

// Stop halts scheduling and waits for running jobs.
func (s *Cron) Stop() {
	<-s.c.Stop().Done()
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
