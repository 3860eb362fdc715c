package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sumbot/internal/history"
	"sumbot/internal/kit"
	"sumbot/internal/schedule"
	"sumbot/pkg/logx"
)

func newTestCommands(t *testing.T, ad *fakeAdapter) (*Commands, *history.Store, *schedule.Manager) {
	t.Helper()
	st := newTestHistory(t)
	store := schedule.NewStore(filepath.Join(t.TempDir(), "sched.json"), logx.Nop())
	pipe := NewPipeline(ad, st, &fakeSummarizer{out: "summary"}, 100, 500, logx.Nop())
	mgr := schedule.NewManager(schedule.Config{}, store, pipe, pipe, logx.Nop())
	mgr.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return NewCommands(ad, st, &fakeSummarizer{out: "summary"}, mgr, 100, 500, logx.Nop()), st, mgr
}

func lastReply(t *testing.T, ad *fakeAdapter) string {
	t.Helper()
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return ad.sent[len(ad.sent)-1].text
}

func TestDispatchRecordsGroupMessages(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, st, _ := newTestCommands(t, ad)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmds.DispatchLoop(ctx, updates)
	}()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: -100, Group: true, FromID: 7, FromName: "alice", Text: "hello there", At: time.Now(),
	}}
	// Private messages are not cached.
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 2, ChatID: 7, Group: false, FromID: 7, FromName: "alice", Text: "private note", At: time.Now(),
	}}

	deadline := time.Now().Add(2 * time.Second)
	for {
		lines, err := st.Recent(context.Background(), -100, 10, 0)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(lines) == 1 {
			if lines[0] != "alice: hello there" {
				t.Fatalf("cached line = %q", lines[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("group message never cached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if lines, _ := st.Recent(context.Background(), 7, 10, 0); len(lines) != 0 {
		t.Errorf("private message cached: %v", lines)
	}

	cancel()
	<-done
}

func TestScheduleCommandRoundTrip(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, _, mgr := newTestCommands(t, ad)
	msg := &kit.Message{ID: 1, ChatID: -100, Group: true, FromID: 7, FromName: "alice", Text: "/schedule 30m"}

	cmds.handle(context.Background(), msg)
	if got := lastReply(t, ad); !strings.Contains(got, "every 30m") {
		t.Errorf("reply = %q", got)
	}
	if got := mgr.List(7); len(got) != 1 || got[0].Interval != 30*time.Minute {
		t.Fatalf("schedules = %+v", got)
	}

	// Listing shows it, removal by the owner clears it.
	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/list_schedule"})
	if got := lastReply(t, ad); !strings.Contains(got, "chat -100") {
		t.Errorf("list reply = %q", got)
	}
	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/remove_schedule"})
	if got := mgr.List(7); len(got) != 0 {
		t.Fatalf("schedule survived removal: %+v", got)
	}
}

func TestScheduleCommandRejectsBadInput(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, _, mgr := newTestCommands(t, ad)

	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/schedule soon"})
	if got := lastReply(t, ad); !strings.Contains(got, "Can't read") {
		t.Errorf("reply = %q", got)
	}

	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/schedule 30s"})
	if got := lastReply(t, ad); !strings.Contains(got, "between 1m and 24h") {
		t.Errorf("reply = %q", got)
	}

	if got := mgr.List(7); len(got) != 0 {
		t.Fatalf("bad input created schedules: %+v", got)
	}
}

func TestRemoveScheduleAuthorization(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, _, mgr := newTestCommands(t, ad)

	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 7, Text: "/schedule 1h"})
	cmds.handle(context.Background(), &kit.Message{ChatID: -100, FromID: 8, Text: "/remove_schedule"})
	if got := lastReply(t, ad); !strings.Contains(got, "Only the user who created") {
		t.Errorf("reply = %q", got)
	}
	if got := mgr.List(7); len(got) != 1 {
		t.Fatalf("foreign removal dropped the schedule: %+v", got)
	}

	cmds.handle(context.Background(), &kit.Message{ChatID: -200, FromID: 7, Text: "/remove_schedule"})
	if got := lastReply(t, ad); !strings.Contains(got, "no scheduled summary") {
		t.Errorf("reply = %q", got)
	}
}

func TestScheduleCommandWithChatIDArgument(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, _, mgr := newTestCommands(t, ad)

	// From a private chat, targeting a group by id.
	cmds.handle(context.Background(), &kit.Message{ChatID: 7, FromID: 7, Text: "/schedule -100200 2h"})
	if got := lastReply(t, ad); !strings.Contains(got, "chat -100200") {
		t.Errorf("reply = %q", got)
	}
	got := mgr.List(7)
	if len(got) != 1 || got[0].ChatID != -100200 || got[0].Interval != 2*time.Hour {
		t.Fatalf("schedules = %+v", got)
	}

	cmds.handle(context.Background(), &kit.Message{ChatID: 7, FromID: 7, Text: "/remove_schedule -100200"})
	if got := mgr.List(7); len(got) != 0 {
		t.Fatalf("schedule survived removal: %+v", got)
	}
}

func TestSummarizeCommandSendsToChat(t *testing.T) {
	ad := &fakeAdapter{}
	cmds, st, _ := newTestCommands(t, ad)
	seedHistory(t, st, -100, 3)

	cmds.handle(context.Background(), &kit.Message{ChatID: -100, ChatTitle: "Dev Chat", FromID: 7, Text: "/summarize"})
	got := lastReply(t, ad)
	if !strings.Contains(got, "Summary of Dev Chat") {
		t.Errorf("reply = %q", got)
	}
	ad.mu.Lock()
	to := ad.sent[len(ad.sent)-1].to.ChatID
	ad.mu.Unlock()
	if to != -100 {
		t.Errorf("summary sent to %d, want the originating chat", to)
	}
}
