package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/playbell/apiserver/logger"
	"github.com/robfig/cron/v3"
)

// pollJob runs one Poll per cron tick.
type pollJob struct {
	bot     *Bot
	timeout time.Duration
}

func (j pollJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.bot.Poll(ctx); err != nil {
		logger.Warningf("bot: poll failed: %v", err)
	}
}

// Scheduler drives Poll on a fixed interval. Ticks never overlap and a
// panicking iteration does not stop later ones.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(b *Bot, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %s", interval)
	}
	log := cronLogger{}
	c := cron.New(cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)), cron.WithLogger(log))
	timeout := max(interval*10, 30*time.Second)
	if _, err := c.AddJob(fmt.Sprintf("@every %s", interval), pollJob{bot: b, timeout: timeout}); err != nil {
		return nil, fmt.Errorf("schedule bot poll: %w", err)
	}
	return &Scheduler{cron: c}, nil
}

// Run starts the schedule and blocks until ctx is done and the running
// iteration, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("bot: polling started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	logger.Info("bot: polling stopped")
	return nil
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
