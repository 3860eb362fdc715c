package schedule

import (
	"context"
	"errors"
	"time"
)

var (
	// Input errors, reported to the caller and never logged as system errors.
	ErrIntervalOutOfRange = errors.New("interval out of range")
	ErrChatUnavailable    = errors.New("chat not accessible")
	ErrNotFound           = errors.New("no schedule for chat")
	ErrNotOwner           = errors.New("schedule owned by another user")

	ErrStopped = errors.New("scheduler stopped")
)

// Schedule is the serializable record for one chat's periodic job. The live
// task handle is never part of it; the Manager tracks tasks separately.
type Schedule struct {
	ChatID   int64
	OwnerID  int64
	Interval time.Duration
	LastRun  time.Time
}

// NextRun is the display estimate for the upcoming cycle. The actual cadence
// is wall-clock based, so this drifts when cycles are skipped.
func (s Schedule) NextRun() time.Time { return s.LastRun.Add(s.Interval) }

type CycleStatus int

const (
	CycleDelivered CycleStatus = iota
	CycleSkipped
	CycleFailed
)

// Outcome is the result of one pipeline cycle. The runner inspects it to
// decide between advancing last_run, skipping, or cooling down.
type Outcome struct {
	Status CycleStatus
	Reason string
}

func Delivered() Outcome            { return Outcome{Status: CycleDelivered} }
func Skipped(reason string) Outcome { return Outcome{Status: CycleSkipped, Reason: reason} }
func Failed(reason string) Outcome  { return Outcome{Status: CycleFailed, Reason: reason} }

// Pipeline runs one fetch/summarize/deliver cycle for a chat. Expected
// collaborator failures must be folded into the Outcome, not returned as
// panics; the runner still recovers panics as a last resort.
type Pipeline interface {
	Run(ctx context.Context, s Schedule) Outcome
}

// ChatVerifier checks that a chat exists and is accessible before a
// schedule is created.
type ChatVerifier interface {
	VerifyChat(ctx context.Context, chatID int64) error
}
