package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sumbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrClosed = errors.New("history store closed")

// Message is one cached chat line.
type Message struct {
	ChatID int64
	MsgID  int
	Sender string
	Body   string
	At     time.Time
}

// Store is the SQLite-backed message cache.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(path string, busyTimeout time.Duration, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record caches one message. Replays of the same (chat, msg) pair are
// ignored so adapter restarts cannot duplicate lines.
func (s *Store) Record(ctx context.Context, m Message) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(m.Body) == "" {
		return nil
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	sender := m.Sender
	if strings.TrimSpace(sender) == "" {
		sender = "Unknown"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages(chat_id, msg_id, sender, body, at) VALUES(?,?,?,?,?)`,
		m.ChatID, m.MsgID, sender, m.Body, m.At.UnixMilli(),
	)
	return err
}

// Recent returns the newest cached messages for a chat as "sender: text"
// lines in chronological order. The window is bounded both by message count
// and by the accumulated body length; the line that crosses the character
// budget is still included.
func (s *Store) Recent(ctx context.Context, chatID int64, maxCount, maxTotalChars int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if maxCount <= 0 {
		maxCount = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, body FROM messages WHERE chat_id = ? ORDER BY at DESC, id DESC LIMIT ?`,
		chatID, maxCount,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	total := 0
	for rows.Next() {
		var sender, body string
		if err := rows.Scan(&sender, &body); err != nil {
			return nil, err
		}
		lines = append(lines, sender+": "+body)
		total += len(body)
		if maxTotalChars > 0 && total > maxTotalChars {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for the summarizer.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// ChatStat summarizes the cache contents for one chat.
type ChatStat struct {
	ChatID   int64
	Messages int
	Latest   time.Time
}

// Chats lists every chat with cached messages, newest activity first.
func (s *Store) Chats(ctx context.Context) ([]ChatStat, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, COUNT(*), MAX(at) FROM messages GROUP BY chat_id ORDER BY MAX(at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatStat
	for rows.Next() {
		var st ChatStat
		var latest int64
		if err := rows.Scan(&st.ChatID, &st.Messages, &latest); err != nil {
			return nil, err
		}
		st.Latest = time.UnixMilli(latest)
		out = append(out, st)
	}
	return out, rows.Err()
}

// PruneBefore drops cached messages older than cutoff and reports how many
// rows went away.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
