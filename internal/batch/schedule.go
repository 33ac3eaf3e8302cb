package batch

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Schedule runs fn on every tick of the standard five-field cron spec until
// ctx is cancelled. A tick that fires while fn is still running is skipped.
func Schedule(ctx context.Context, spec string, log zerolog.Logger, fn func(context.Context)) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	cl := cronLogger{log: log.With().Str("component", "scheduler").Logger()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id := c.Schedule(sched, cron.FuncJob(func() { fn(ctx) }))
	c.Start()
	cl.log.Info().Str("schedule", spec).Time("next", c.Entry(id).Next).Msg("scheduler started")

	<-ctx.Done()
	// wait for a running job to return
	<-c.Stop().Done()
	cl.log.Info().Msg("scheduler stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
