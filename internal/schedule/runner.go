package schedule

import (
	"context"
	"fmt"
	"time"

	"sumbot/pkg/logx"
)

// run is the per-chat job loop: sleep a full interval, then attempt one
// cycle, forever. Cancellation is observed at every suspension point and
// stops the loop without further store writes.
func (m *Manager) run(ctx context.Context, chatID int64) {
	log := m.log.With(logx.Int64("chat", chatID))
	log.Debug("job started")

	for {
		sch, ok := m.store.Get(chatID)
		if !ok {
			log.Debug("schedule gone; job exiting")
			return
		}

		if !sleep(ctx, sch.Interval) {
			log.Debug("job cancelled")
			return
		}

		// The schedule may have been removed while we slept.
		sch, ok = m.store.Get(chatID)
		if !ok {
			log.Debug("schedule removed during sleep; job exiting")
			return
		}

		out := m.runCycle(ctx, sch)
		if ctx.Err() != nil {
			log.Debug("job cancelled")
			return
		}

		switch out.Status {
		case CycleDelivered:
			m.store.TouchLastRun(chatID, time.Now())
			log.Info("summary delivered", logx.String("interval", FormatInterval(sch.Interval)))
		case CycleSkipped:
			log.Warn("cycle skipped", logx.String("reason", out.Reason))
		case CycleFailed:
			log.Error("cycle failed; cooling down",
				logx.String("reason", out.Reason),
				logx.Duration("cooldown", m.cfg.Cooldown))
			if !sleep(ctx, m.cfg.Cooldown) {
				log.Debug("job cancelled")
				return
			}
		}
	}
}

// runCycle shields the loop from panicking collaborators; a panic is folded
// into a failed outcome, which the loop answers with a cooldown.
func (m *Manager) runCycle(ctx context.Context, sch Schedule) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Sprintf("panic: %v", r))
		}
	}()
	if m.pipe == nil {
		return Skipped("no pipeline configured")
	}
	return m.pipe.Run(ctx, sch)
}

// sleep waits for d or cancellation; reports false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
