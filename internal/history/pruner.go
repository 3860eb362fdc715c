package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"sumbot/pkg/logx"
)

// Pruner runs retention cleanup on a cron cadence.
type Pruner struct {
	c         *cron.Cron
	store     *Store
	retention atomic.Int64 // time.Duration; hot-reloadable
	log       logx.Logger
}

// NewPruner schedules PruneBefore(now - retention) on the given cron spec
// (5-field, e.g. "30 4 * * *").
func NewPruner(store *Store, spec string, retention time.Duration, log logx.Logger) (*Pruner, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pruner{
		c:     cron.New(),
		store: store,
		log:   log,
	}
	p.retention.Store(int64(retention))
	if _, err := p.c.AddFunc(spec, p.runOnce); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pruner) Start() { p.c.Start() }

// SetRetention changes the retention window; takes effect on the next run.
func (p *Pruner) SetRetention(d time.Duration) {
	if d > 0 {
		p.retention.Store(int64(d))
	}
}

// Stop halts the cron loop and waits for an in-flight prune, bounded by ctx.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn("history pruner stop timed out")
	}
}

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-time.Duration(p.retention.Load()))
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		p.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("history pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
	}
}
