package core

import (
	"context"
	"fmt"

	"sumbot/internal/history"
	"sumbot/internal/kit"
	"sumbot/internal/schedule"
	"sumbot/pkg/logx"
)

// Summarizer condenses chat lines into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, lines []string) (string, error)
}

// Pipeline executes one summary cycle: pull the cached window, summarize it
// and deliver the result to the schedule's owner. It also backs chat
// verification for new schedules.
//
// Everything that can plausibly clear up on its own (empty window, API miss,
// delivery hiccup) is reported as a skipped cycle so the job keeps its
// cadence; only genuinely unexpected errors count as failures.
type Pipeline struct {
	adapter kit.Adapter
	hist    *history.Store
	sum     Summarizer
	log     logx.Logger

	maxMessages int
	maxChars    int
}

func NewPipeline(adapter kit.Adapter, hist *history.Store, sum Summarizer, maxMessages, maxChars int, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		adapter:     adapter,
		hist:        hist,
		sum:         sum,
		log:         log,
		maxMessages: maxMessages,
		maxChars:    maxChars,
	}
}

// VerifyChat confirms the bot can still see the chat.
func (p *Pipeline) VerifyChat(ctx context.Context, chatID int64) error {
	_, err := p.adapter.ChatByID(ctx, chatID)
	return err
}

func (p *Pipeline) Run(ctx context.Context, s schedule.Schedule) schedule.Outcome {
	info, err := p.adapter.ChatByID(ctx, s.ChatID)
	if err != nil {
		return schedule.Skipped(fmt.Sprintf("chat lookup: %v", err))
	}

	lines, err := p.hist.Recent(ctx, s.ChatID, p.maxMessages, p.maxChars)
	if err != nil {
		return schedule.Skipped(fmt.Sprintf("history: %v", err))
	}
	if len(lines) == 0 {
		return schedule.Skipped("no cached messages")
	}

	summary, err := p.sum.Summarize(ctx, lines)
	if err != nil {
		return schedule.Skipped(fmt.Sprintf("summarize: %v", err))
	}

	text := renderScheduledSummary(info.Title, summary)
	_, err = p.adapter.SendText(ctx, kit.ChatTarget{ChatID: s.OwnerID}, text, &kit.SendOptions{
		ParseMode:      "MarkdownV2",
		DisablePreview: true,
	})
	if err != nil {
		return schedule.Skipped(fmt.Sprintf("deliver: %v", err))
	}

	p.log.Debug("summary delivered",
		logx.Int64("chat", s.ChatID),
		logx.Int64("owner", s.OwnerID),
		logx.Int("lines", len(lines)))
	return schedule.Delivered()
}
