package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sumbot/pkg/logx"
)

type fakePipeline struct {
	mu      sync.Mutex
	runs    int
	outcome Outcome
}

func (p *fakePipeline) Run(ctx context.Context, s Schedule) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs++
	return p.outcome
}

func (p *fakePipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

type fakeVerifier struct{ err error }

func (v fakeVerifier) VerifyChat(ctx context.Context, chatID int64) error { return v.err }

func newTestManager(t *testing.T, cfg Config, pipe Pipeline, verify ChatVerifier) (*Manager, *Store) {
	t.Helper()
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"), logx.Nop())
	m := NewManager(cfg, st, pipe, verify, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		m.Shutdown(sctx)
	})
	return m, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestAddIntervalBounds(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{})

	tests := []struct {
		secs int64
		ok   bool
	}{
		{59, false},
		{60, true},
		{86400, true},
		{86401, false},
	}
	for _, tt := range tests {
		err := m.Add(context.Background(), 100, 1, time.Duration(tt.secs)*time.Second)
		if tt.ok && err != nil {
			t.Fatalf("Add(interval=%ds) error: %v", tt.secs, err)
		}
		if !tt.ok {
			if !errors.Is(err, ErrIntervalOutOfRange) {
				t.Fatalf("Add(interval=%ds) error = %v, want ErrIntervalOutOfRange", tt.secs, err)
			}
		}
	}
}

func TestAddRejectsUnverifiableChat(t *testing.T) {
	t.Parallel()
	m, st := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{err: errors.New("peer not found")})

	err := m.Add(context.Background(), 100, 1, time.Hour)
	if !errors.Is(err, ErrChatUnavailable) {
		t.Fatalf("error = %v, want ErrChatUnavailable", err)
	}
	if st.Len() != 0 {
		t.Fatal("failed Add must not persist a schedule")
	}
}

func TestAddTwiceKeepsSingleTask(t *testing.T) {
	t.Parallel()
	m, st := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{})

	if err := m.Add(context.Background(), 100, 1, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(context.Background(), 100, 1, 2*time.Hour); err != nil {
		t.Fatal(err)
	}

	if n := m.LiveTasks(); n != 1 {
		t.Fatalf("LiveTasks() = %d, want 1", n)
	}
	sch, _ := st.Get(100)
	if sch.Interval != 2*time.Hour {
		t.Fatalf("interval = %v, want the replacement's 2h", sch.Interval)
	}
}

func TestRemoveAuthorization(t *testing.T) {
	t.Parallel()
	m, st := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{})

	if err := m.Remove(100, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove on empty store = %v, want ErrNotFound", err)
	}

	if err := m.Add(context.Background(), 100, 1, time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove(100, 2); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Remove by non-owner = %v, want ErrNotOwner", err)
	}
	if m.LiveTasks() != 1 {
		t.Fatal("non-owner removal must not cancel the task")
	}

	if err := m.Remove(100, 1); err != nil {
		t.Fatalf("Remove by owner error: %v", err)
	}
	if st.Len() != 0 {
		t.Fatal("record still present after owner removal")
	}
	if m.LiveTasks() != 0 {
		t.Fatal("task still live after owner removal")
	}
}

func TestListFiltersByOwner(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{})

	for _, c := range []struct{ chat, owner int64 }{{300, 1}, {100, 1}, {200, 2}} {
		if err := m.Add(context.Background(), c.chat, c.owner, time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	got := m.List(1)
	if len(got) != 2 || got[0].ChatID != 100 || got[1].ChatID != 300 {
		t.Fatalf("List(1) = %+v, want chats [100 300]", got)
	}
	if n := len(m.List(3)); n != 0 {
		t.Fatalf("List(3) = %d schedules, want 0", n)
	}
}

func TestResumeAllSpawnsWithoutImmediateRun(t *testing.T) {
	t.Parallel()
	pipe := &fakePipeline{outcome: Delivered()}
	m, st := newTestManager(t, Config{}, pipe, fakeVerifier{})

	st.Put(Schedule{ChatID: 100, OwnerID: 1, Interval: time.Hour, LastRun: time.Now().Add(-2 * time.Hour)})

	if n := m.ResumeAll(); n != 1 {
		t.Fatalf("ResumeAll() = %d, want 1", n)
	}
	if n := m.LiveTasks(); n != 1 {
		t.Fatalf("LiveTasks() = %d, want 1", n)
	}

	// First action must be the interval sleep, never a catch-up cycle.
	time.Sleep(50 * time.Millisecond)
	if n := pipe.count(); n != 0 {
		t.Fatalf("pipeline ran %d times right after resume, want 0", n)
	}

	// Resuming again must not double-spawn.
	if n := m.ResumeAll(); n != 0 {
		t.Fatalf("second ResumeAll() = %d, want 0", n)
	}
}

func TestSkippedCycleKeepsTaskAndCadence(t *testing.T) {
	t.Parallel()
	pipe := &fakePipeline{outcome: Skipped("message fetch failed")}
	m, st := newTestManager(t, Config{MinInterval: time.Millisecond}, pipe, fakeVerifier{})

	start := time.Now()
	st.Put(Schedule{ChatID: 100, OwnerID: 1, Interval: 20 * time.Millisecond, LastRun: start})
	m.ResumeAll()

	if !waitFor(t, 2*time.Second, func() bool { return pipe.count() >= 2 }) {
		t.Fatalf("task did not keep firing after a skipped cycle (runs=%d)", pipe.count())
	}
	if m.LiveTasks() != 1 {
		t.Fatal("task died after a skipped cycle")
	}
	sch, _ := st.Get(100)
	if !sch.LastRun.Equal(start) {
		t.Fatalf("last_run advanced on a skipped cycle: %v", sch.LastRun)
	}
}

func TestDeliveredCycleAdvancesLastRun(t *testing.T) {
	t.Parallel()
	pipe := &fakePipeline{outcome: Delivered()}
	m, st := newTestManager(t, Config{MinInterval: time.Millisecond}, pipe, fakeVerifier{})

	start := time.Now().Add(-time.Minute)
	st.Put(Schedule{ChatID: 100, OwnerID: 1, Interval: 20 * time.Millisecond, LastRun: start})
	m.ResumeAll()

	if !waitFor(t, 2*time.Second, func() bool {
		sch, _ := st.Get(100)
		return sch.LastRun.After(start)
	}) {
		t.Fatal("last_run never advanced after a delivered cycle")
	}
}

func TestPanickingPipelineTriggersCooldown(t *testing.T) {
	t.Parallel()
	var runs int
	var mu sync.Mutex
	pipe := pipelineFunc(func(ctx context.Context, s Schedule) Outcome {
		mu.Lock()
		runs++
		mu.Unlock()
		panic("collaborator blew up")
	})
	m, st := newTestManager(t, Config{MinInterval: time.Millisecond, Cooldown: 10 * time.Millisecond}, pipe, fakeVerifier{})

	st.Put(Schedule{ChatID: 100, OwnerID: 1, Interval: 10 * time.Millisecond, LastRun: time.Now()})
	m.ResumeAll()

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}) {
		t.Fatal("task did not survive a panicking cycle")
	}
	if m.LiveTasks() != 1 {
		t.Fatal("task died after panic")
	}
}

type pipelineFunc func(ctx context.Context, s Schedule) Outcome

func (f pipelineFunc) Run(ctx context.Context, s Schedule) Outcome { return f(ctx, s) }

func TestShutdownIsBoundedMidSleep(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{}, &fakePipeline{outcome: Delivered()}, fakeVerifier{})

	if err := m.Add(context.Background(), 100, 1, time.Hour); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if took := time.Since(start); took > time.Second {
		t.Fatalf("Shutdown took %v with a task mid-sleep", took)
	}
	if !waitFor(t, time.Second, func() bool { return m.LiveTasks() == 0 }) {
		t.Fatalf("LiveTasks() = %d after shutdown, want 0", m.LiveTasks())
	}

	if err := m.Add(context.Background(), 200, 1, time.Hour); !errors.Is(err, ErrStopped) {
		t.Fatalf("Add after shutdown = %v, want ErrStopped", err)
	}
}
