package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultScanInterval is how often the auto-close scanner runs.
const DefaultScanInterval = 5 * time.Minute

// Scheduler runs the scanner on a fixed interval. Overlapping runs are
// skipped: if a pass is still in flight when the next tick fires, that tick
// is dropped rather than queued.
type Scheduler struct {
	scanner  *Scanner
	interval time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a scheduler for the given scanner.
func NewScheduler(scanner *Scanner, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{scanner: scanner, interval: interval, log: log}
}

// Start begins periodic scanning. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cronLog := &cronLogger{log: s.log.Sugar()}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog)))

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.scanner.RunOnce(context.Background()); err != nil {
			s.log.Error("scheduled scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule scan job: %w", err)
	}

	c.Start()
	s.cron = c
	s.log.Info("scan scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("scan scheduler stopped")
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
