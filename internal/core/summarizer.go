package core

import (
	"context"
	"sync"
)

// hotSummarizer lets the config reload swap the backing client without
// rewiring the pipeline or the command layer.
type hotSummarizer struct {
	mu  sync.RWMutex
	cur Summarizer
}

func newHotSummarizer(s Summarizer) *hotSummarizer {
	return &hotSummarizer{cur: s}
}

func (h *hotSummarizer) Swap(s Summarizer) {
	if s == nil {
		return
	}
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
}

func (h *hotSummarizer) Summarize(ctx context.Context, lines []string) (string, error) {
	h.mu.RLock()
	cur := h.cur
	h.mu.RUnlock()
	return cur.Summarize(ctx, lines)
}
