package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/robfig/cron/v3"
)

// DefaultCronExpression schedules one backup daily at 01:00 in the
// configured timezone; used when NewScheduled is handed an empty
// expression.
const DefaultCronExpression = "0 1 * * *"

// maxConsecutiveFailures is spec §4.6's "after 10 consecutive
// catastrophic failures the loop exits and reports 'giving up'".
const maxConsecutiveFailures = 10

// transientRetryDelay is the spec §4.6 retry delay after a transient
// scheduling failure ("Transient failures retry after 1 s").
const transientRetryDelay = time.Second

// disposeWait bounds how long Close waits for the background loop to
// acknowledge cancellation before giving up on it (spec §5 "Disposal").
const disposeWait = 5 * time.Second

// Scheduled wraps a Service with a cron-driven background loop (spec
// §4.6's "scheduled" construction mode).
type Scheduled struct {
	*Service
	schedule           cron.Schedule
	loc                *time.Location
	dropTablesAfterRun bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	startOnce  sync.Once
	closeOnce  sync.Once
}

// NewScheduled parses cronExpr in the standard 5-field cron format and
// binds it to svc. An empty cronExpr means DefaultCronExpression. loc is
// the timezone the cron occurrences are computed in; nil means UTC.
func NewScheduled(svc *Service, cronExpr string, loc *time.Location, dropTablesAfterRun bool) (*Scheduled, error) {
	if cronExpr == "" {
		cronExpr = DefaultCronExpression
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("backup: invalid cron expression %q: %w", cronExpr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduled{Service: svc, schedule: schedule, loc: loc, dropTablesAfterRun: dropTablesAfterRun}, nil
}

// Run blocks, computing the next cron occurrence, sleeping until then (or
// returning if ctx is cancelled), running a Backup, and repeating. It
// returns nil when ctx is cancelled cleanly or no future occurrence
// exists, and an error when it gives up after maxConsecutiveFailures
// catastrophic failures in a row.
func (s *Scheduled) Run(ctx context.Context) error {
	consecutiveFailures := 0
	for {
		next := s.schedule.Next(time.Now().In(s.loc))
		if next.IsZero() {
			return nil
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		out := s.TakeBackup(ctx, s.dropTablesAfterRun)
		if out.IsSuccessful {
			consecutiveFailures = 0
			continue
		}

		s.logError(fmt.Errorf("scheduled backup failed: %s", out.ErrorMessage))
		consecutiveFailures++
		if consecutiveFailures >= maxConsecutiveFailures {
			err := fmt.Errorf("backup: giving up after %d consecutive failures", consecutiveFailures)
			s.logError(err)
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(transientRetryDelay):
		}
	}
}

// Start launches Run on a background goroutine. Errors out of the loop
// (only the giving-up case) are routed to the error callback by Run
// itself. Calling Start more than once is a no-op.
func (s *Scheduled) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelLoop = cancel
		s.loopDone = make(chan struct{})
		go func() {
			defer close(s.loopDone)
			if err := s.Run(ctx); err != nil {
				glog.Errorf("backup: scheduled loop exited: %v", err)
			}
		}()
	})
}

// Close cancels the background loop started by Start, waits up to
// disposeWait for it to exit, then marks the underlying Service disposed
// so every later call fails with 503 (spec §5 "Disposal"). Safe to call
// multiple times; errors during disposal are swallowed.
func (s *Scheduled) Close() {
	s.closeOnce.Do(func() {
		if s.cancelLoop != nil {
			s.cancelLoop()
			select {
			case <-s.loopDone:
			case <-time.After(disposeWait):
			}
		}
		s.Dispose()
	})
}
