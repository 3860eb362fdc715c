// Package core wires the configuration, adapter, message cache, summarizer
// and scheduler into one supervised application.
package core

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	telegram "sumbot/internal/adapters/telegram"
	"sumbot/internal/config"
	"sumbot/internal/history"
	"sumbot/internal/kit"
	"sumbot/internal/schedule"
	"sumbot/internal/summarize"
	"sumbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	hist    *history.Store
	pruner  *history.Pruner
	sum     *hotSummarizer
	sched   *schedule.Manager
	cmds    *Commands

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := parseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(cfg.History.Path, busyTimeout, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, fmt.Errorf("open history cache: %w", err)
	}

	retention, err := parseDurationOrDefault("history.retention", cfg.History.Retention, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	pruner, err := history.NewPruner(hist, cfg.History.PruneSpec, retention, log.With(logx.String("comp", "pruner")))
	if err != nil {
		return nil, fmt.Errorf("history pruner: %w", err)
	}

	sumClient, err := buildSummarizer(cfg, log.With(logx.String("comp", "summarize")))
	if err != nil {
		return nil, fmt.Errorf("summarizer: %w", err)
	}
	sum := newHotSummarizer(sumClient)

	cooldown, err := parseDurationField("schedule.cooldown", cfg.Schedule.Cooldown)
	if err != nil {
		return nil, err
	}
	schedStore := schedule.NewStore(cfg.Schedule.StorePath, log.With(logx.String("comp", "schedstore")))
	if n := schedStore.Load(); n > 0 {
		log.Info("schedules loaded", logx.Int("count", n))
	}

	pipe := NewPipeline(ad, hist, sum, cfg.History.MaxMessages, cfg.History.MaxChars, log.With(logx.String("comp", "pipeline")))
	sched := schedule.NewManager(schedule.Config{Cooldown: cooldown}, schedStore, pipe, pipe, log.With(logx.String("comp", "scheduler")))
	cmds := NewCommands(ad, hist, sum, sched, cfg.History.MaxMessages, cfg.History.MaxChars, log.With(logx.String("comp", "commands")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		hist:    hist,
		pruner:  pruner,
		sum:     sum,
		sched:   sched,
		cmds:    cmds,
		updates: make(chan kit.Update, 256),
	}, nil
}

// buildSummarizer assembles the key ring (inline config keys + keys file +
// numbered env vars) and constructs the client.
func buildSummarizer(cfg *config.Config, log logx.Logger) (*summarize.Client, error) {
	keys := append([]string(nil), cfg.Summarizer.APIKeys...)
	fileKeys, err := summarize.LoadKeys(cfg.Summarizer.APIKeysFile)
	if err != nil {
		return nil, err
	}
	keys = append(keys, fileKeys...)

	reqTimeout, err := parseDurationField("summarizer.request_timeout", cfg.Summarizer.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return summarize.New(summarize.Config{
		BaseURL:        cfg.Summarizer.BaseURL,
		Model:          cfg.Summarizer.Model,
		APIKeys:        keys,
		MaxTokens:      cfg.Summarizer.MaxTokens,
		RequestTimeout: reqTimeout,
	}, log)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := parseDurationField("history.busy_timeout", cfg.History.BusyTimeout); err != nil {
			return err
		}
		if _, err := parseDurationField("history.retention", cfg.History.Retention); err != nil {
			return err
		}
		if _, err := parseDurationField("summarizer.request_timeout", cfg.Summarizer.RequestTimeout); err != nil {
			return err
		}
		if _, err := parseDurationField("schedule.cooldown", cfg.Schedule.Cooldown); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.pruner.Start()
	a.sched.Start(a.sup.Context())
	if n := a.sched.ResumeAll(); n > 0 {
		a.log.Info("schedules resumed from store", logx.Int("count", n))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out: logging, summarizer and history retention
	// apply live; telegram/storage changes need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				if lastApplied == nil || !reflect.DeepEqual(newCfg.Summarizer, lastApplied.Summarizer) {
					cl, err := buildSummarizer(newCfg, a.log.With(logx.String("comp", "summarize")))
					if err != nil {
						a.log.Warn("summarizer config rejected; keeping previous client", logx.Err(err))
					} else {
						a.sum.Swap(cl)
						a.log.Info("summarizer client rebuilt")
					}
				}

				if retention, err := parseDurationField("history.retention", newCfg.History.Retention); err == nil && retention > 0 {
					a.pruner.SetRetention(retention)
				}

				if lastApplied != nil &&
					(newCfg.Telegram != lastApplied.Telegram ||
						newCfg.History.Path != lastApplied.History.Path ||
						newCfg.Schedule != lastApplied.Schedule) {
					a.log.Warn("telegram/storage config changed; restart required for changes to take effect")
				}
				lastApplied = newCfg
				a.log.Info("config applied")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Shutdown(c); return nil })
	step("pruner", 2*time.Second, func(c context.Context) error { a.pruner.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("history", 1*time.Second, func(context.Context) error { return a.hist.Close() })

	// Finally, wait for supervised goroutines (dispatch, config watch/reload).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
