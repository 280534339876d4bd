// Package worker runs the periodic expired-hold sweep.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/service"
)

// HoldReleaser releases expired holds and cancels the bookings left empty.
// *service.BookingService implements it.
type HoldReleaser interface {
	ReleaseExpiredHolds(ctx context.Context) (service.SweepResult, error)
}

// Sweeper calls ReleaseExpiredHolds on a cron schedule.  Runs never overlap:
// a tick that fires while the previous sweep is still running is skipped.
type Sweeper struct {
	cron     *cron.Cron
	entry    cron.EntryID
	bookings HoldReleaser
	timeout  time.Duration
	log      *zap.Logger
}

// NewSweeper schedules the sweep, e.g. "@every 1m" or "*/5 * * * *".
func NewSweeper(schedule string, bookings HoldReleaser, log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sweeper")
	cl := cronLogger{log.Sugar()}
	s := &Sweeper{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		bookings: bookings,
		timeout:  time.Minute,
		log:      log,
	}
	id, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, fmt.Errorf("sweeper: bad schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Run performs one sweep through the same job chain the schedule uses, so a
// call made while another sweep is running returns immediately.
func (s *Sweeper) Run() {
	s.cron.Entry(s.entry).WrappedJob.Run()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	res, err := s.bookings.ReleaseExpiredHolds(ctx)
	if err != nil {
		s.log.Warn("expired hold sweep failed", zap.Error(err), zap.Int("released", res.Released))
		return
	}
	if res.Released > 0 || res.Cancelled > 0 {
		s.log.Info("expired holds swept",
			zap.Int("released", res.Released), zap.Int("cancelled", res.Cancelled),
			zap.Duration("took", time.Since(start)))
	}
}

// cronLogger routes cron's key/value logging to zap.  Scheduler chatter
// such as "wake" and "skip" is logged at debug level.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
