package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper advances sessions whose live question outlived its deadline. It is the single
// server-side authority for time limits; clients only render a countdown derived from
// the deadline in the snapshot.
type Reaper struct {
	sessions SessionStore
	machine  *StateMachine
	interval time.Duration
	logger   *zap.Logger
}

func NewReaper(sessions SessionStore, machine *StateMachine, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{sessions: sessions, machine: machine, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("deadline sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep advances every overdue session once and returns how many advanced.
// A failure on one session does not stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	codes, err := r.sessions.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, code := range codes {
		s, err := r.sessions.Get(ctx, code)
		if err != nil {
			r.logger.Debug("skip session", zap.String("code", code), zap.Error(err))
			continue
		}
		next, ok, err := r.machine.AdvanceIfExpired(ctx, code, s.CurrentIndex)
		if err != nil {
			r.logger.Warn("auto-advance failed", zap.String("code", code), zap.Error(err))
			continue
		}
		if ok {
			advanced++
			r.logger.Info("question timed out",
				zap.String("code", code),
				zap.Int("from", s.CurrentIndex),
				zap.Int("to", next.CurrentIndex),
				zap.String("state", string(next.State())))
		}
	}
	return advanced, nil
}
