package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sumbot/pkg/logx"
)

// Config controls the Manager's validation bounds and failure cooldown.
type Config struct {
	MinInterval time.Duration // default 1 minute
	MaxInterval time.Duration // default 24 hours
	Cooldown    time.Duration // wait after an unexpected cycle failure; default 1 minute
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 24 * time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	return c
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager mediates between callers, the Store and the per-chat runner
// tasks. All public methods are safe to call concurrently with running
// jobs.
type Manager struct {
	cfg    Config
	log    logx.Logger
	store  *Store
	pipe   Pipeline
	verify ChatVerifier

	mu        sync.Mutex
	started   bool
	tasks     map[int64]*task
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewManager(cfg Config, store *Store, pipe Pipeline, verify ChatVerifier, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		log:    log,
		store:  store,
		pipe:   pipe,
		verify: verify,
		tasks:  map[int64]*task{},
	}
}

// Start arms the manager. Tasks spawned later inherit ctx, so cancelling it
// tears every job down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.runCtx, m.runCancel = context.WithCancel(ctx)
	m.started = true
}

// Add validates the request, replaces any existing schedule for the chat
// (cancelling its task first), persists the new record and spawns a fresh
// task. The first cycle fires one full interval from now.
func (m *Manager) Add(ctx context.Context, chatID, ownerID int64, interval time.Duration) error {
	if interval < m.cfg.MinInterval || interval > m.cfg.MaxInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]",
			ErrIntervalOutOfRange, FormatInterval(interval),
			FormatInterval(m.cfg.MinInterval), FormatInterval(m.cfg.MaxInterval))
	}
	if m.verify != nil {
		if err := m.verify.VerifyChat(ctx, chatID); err != nil {
			return fmt.Errorf("%w: %v", ErrChatUnavailable, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrStopped
	}

	// At most one live task per chat: retire the old one before spawning.
	if old := m.tasks[chatID]; old != nil {
		delete(m.tasks, chatID)
		old.cancel()
		<-old.done
	}

	m.store.Put(Schedule{
		ChatID:   chatID,
		OwnerID:  ownerID,
		Interval: interval,
		LastRun:  time.Now(),
	})
	m.spawnLocked(chatID)

	m.log.Info("schedule added",
		logx.Int64("chat", chatID),
		logx.Int64("owner", ownerID),
		logx.String("interval", FormatInterval(interval)))
	return nil
}

// Remove cancels the chat's task and deletes its record. Only the owner may
// remove a schedule; the authorization failure is distinct from not-found.
func (m *Manager) Remove(chatID, requesterID int64) error {
	sch, ok := m.store.Get(chatID)
	if !ok {
		return ErrNotFound
	}
	if sch.OwnerID != requesterID {
		return ErrNotOwner
	}

	m.mu.Lock()
	t := m.tasks[chatID]
	delete(m.tasks, chatID)
	m.mu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
	m.store.Delete(chatID)

	m.log.Info("schedule removed", logx.Int64("chat", chatID), logx.Int64("owner", requesterID))
	return nil
}

// List returns the requester's schedules sorted by chat id.
func (m *Manager) List(requesterID int64) []Schedule {
	var out []Schedule
	for _, sch := range m.store.All() {
		if sch.OwnerID == requesterID {
			out = append(out, sch)
		}
	}
	return out
}

// ResumeAll spawns a task for every persisted schedule that has none yet.
// Resumed tasks sleep a full interval before their first cycle; time missed
// while the process was down is not backfilled.
func (m *Manager) ResumeAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return 0
	}
	n := 0
	for _, sch := range m.store.All() {
		if _, live := m.tasks[sch.ChatID]; live {
			continue
		}
		m.spawnLocked(sch.ChatID)
		n++
	}
	if n > 0 {
		m.log.Info("schedules resumed", logx.Int("count", n))
	}
	return n
}

// Shutdown cancels every live task and waits for them to settle, bounded by
// ctx. Nothing is persisted: the store is already current.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.runCancel
	m.runCancel = nil
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("scheduler stopped")
	case <-ctx.Done():
		m.log.Warn("scheduler stop timed out; tasks unwinding in background")
	}
}

// LiveTasks reports the number of running job goroutines.
func (m *Manager) LiveTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// spawnLocked registers and starts a task for chatID. Caller holds m.mu.
func (m *Manager) spawnLocked(chatID int64) {
	tctx, cancel := context.WithCancel(m.runCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.tasks[chatID] = t

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			// done must close before the map cleanup: Add/Remove wait on it
			// while holding m.mu.
			close(t.done)
			m.mu.Lock()
			if m.tasks[chatID] == t {
				delete(m.tasks, chatID)
			}
			m.mu.Unlock()
		}()
		m.run(tctx, chatID)
	}()
}
