package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"sumbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "history.db"), time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 1; i <= 5; i++ {
		err := st.Record(ctx, Message{
			ChatID: 100,
			MsgID:  i,
			Sender: fmt.Sprintf("user%d", i),
			Body:   fmt.Sprintf("message %d", i),
			At:     base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// A message for another chat must not leak in.
	if err := st.Record(ctx, Message{ChatID: 200, MsgID: 1, Sender: "x", Body: "other", At: base}); err != nil {
		t.Fatal(err)
	}

	lines, err := st.Recent(ctx, 100, 3, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"user3: message 3", "user4: message 4", "user5: message 5"}
	if len(lines) != len(want) {
		t.Fatalf("Recent = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRecordDeduplicates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m := Message{ChatID: 100, MsgID: 7, Sender: "alice", Body: "hello", At: time.Now()}
	if err := st.Record(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := st.Record(ctx, m); err != nil {
		t.Fatal(err)
	}

	lines, err := st.Recent(ctx, 100, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("duplicate msg cached twice: %v", lines)
	}
}

func TestRecentCharBudget(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 1; i <= 10; i++ {
		err := st.Record(ctx, Message{
			ChatID: 100,
			MsgID:  i,
			Sender: "u",
			Body:   "0123456789", // 10 chars each
			At:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Budget of 25 chars: the third (crossing) line is still included.
	lines, err := st.Recent(ctx, 100, 100, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines under 25-char budget, want 3", len(lines))
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	_ = st.Record(ctx, Message{ChatID: 1, MsgID: 1, Sender: "a", Body: "old", At: old})
	_ = st.Record(ctx, Message{ChatID: 1, MsgID: 2, Sender: "a", Body: "fresh", At: fresh})

	n, err := st.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}

	lines, err := st.Recent(ctx, 1, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "a: fresh" {
		t.Fatalf("Recent after prune = %v", lines)
	}
}
