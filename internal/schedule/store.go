package schedule

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"sumbot/pkg/logx"
)

// record is the persisted shape of one schedule. Keys of the outer document
// are string-encoded chat ids; there is no schema version field.
type record struct {
	Interval int64   `json:"interval"`
	LastRun  float64 `json:"last_run"`
	UserID   int64   `json:"user_id"`
}

// Store holds the in-memory schedule table and mirrors every mutation into
// a single JSON document. The in-memory state stays authoritative when a
// persist fails; the next successful persist reconciles the file.
type Store struct {
	path string
	log  logx.Logger

	mu      sync.Mutex
	entries map[int64]Schedule
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		path:    path,
		log:     log,
		entries: map[int64]Schedule{},
	}
}

// Load replaces the in-memory table with the persisted document. A missing,
// unreadable or malformed file degrades to an empty table with a logged
// warning; startup never fails on store contents. Returns the entry count.
func (s *Store) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = map[int64]Schedule{}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug("no schedule file yet", logx.String("path", s.path))
		} else {
			s.log.Warn("schedule file unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return 0
	}

	var doc map[string]record
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warn("schedule file malformed; starting empty", logx.String("path", s.path), logx.Err(err))
		return 0
	}

	for key, r := range doc {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn("skipping schedule entry with non-numeric key", logx.String("key", key))
			continue
		}
		s.entries[chatID] = Schedule{
			ChatID:   chatID,
			OwnerID:  r.UserID,
			Interval: time.Duration(r.Interval) * time.Second,
			LastRun:  timeFromUnixSeconds(r.LastRun),
		}
	}
	return len(s.entries)
}

func (s *Store) Get(chatID int64) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.entries[chatID]
	return sch, ok
}

// All returns a snapshot sorted by chat id for stable display.
func (s *Store) All() []Schedule {
	s.mu.Lock()
	out := make([]Schedule, 0, len(s.entries))
	for _, sch := range s.entries {
		out = append(out, sch)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Put inserts or replaces a schedule and persists synchronously.
func (s *Store) Put(sch Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sch.ChatID] = sch
	s.persistLocked()
}

// Delete removes a schedule and persists synchronously. Deleting a missing
// entry is a no-op.
func (s *Store) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[chatID]; !ok {
		return
	}
	delete(s.entries, chatID)
	s.persistLocked()
}

// TouchLastRun advances last_run for an existing schedule. Earlier
// timestamps are ignored so last_run stays monotonically non-decreasing.
func (s *Store) TouchLastRun(chatID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.entries[chatID]
	if !ok || at.Before(sch.LastRun) {
		return
	}
	sch.LastRun = at
	s.entries[chatID] = sch
	s.persistLocked()
}

// persistLocked rewrites the whole document via tmp file + rename. The
// state is one small document, so full rewrites are cheaper than a journal.
func (s *Store) persistLocked() {
	doc := make(map[string]record, len(s.entries))
	for chatID, sch := range s.entries {
		doc[strconv.FormatInt(chatID, 10)] = record{
			Interval: int64(sch.Interval / time.Second),
			LastRun:  unixSeconds(sch.LastRun),
			UserID:   sch.OwnerID,
		}
	}

	b, err := json.Marshal(doc)
	if err != nil {
		s.log.Warn("schedule persist failed (marshal)", logx.Err(err))
		return
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Warn("schedule persist failed (mkdir)", logx.String("dir", dir), logx.Err(err))
			return
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Warn("schedule persist failed (write)", logx.String("path", tmp), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("schedule persist failed (rename)", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Debug("schedules persisted", logx.Int("count", len(doc)), logx.String("path", s.path))
}

// unixSeconds splits seconds and nanoseconds before converting: a single
// float64(UnixNano()) loses hundreds of nanoseconds at current epochs.
func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func timeFromUnixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
