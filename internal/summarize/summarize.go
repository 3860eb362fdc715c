// Package summarize talks to an OpenAI-compatible chat-completions backend
// (OpenRouter by default) to turn a window of chat lines into a short
// summary. Several API keys can be configured; the client rotates to the
// next key whenever the current one errors or returns an empty reply.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"sumbot/pkg/logx"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "deepseek/deepseek-r1:free"
)

var (
	ErrNoKeys    = errors.New("no api keys configured")
	ErrNoSummary = errors.New("summary unavailable: all api keys failed or returned empty")
)

type Config struct {
	BaseURL        string
	Model          string
	APIKeys        []string
	MaxTokens      int           // 0 = backend default
	RequestTimeout time.Duration // per attempt; default 2 minutes
}

// Client is safe for concurrent use. A shared limiter spaces out requests
// across all scheduled chats so a burst of cycles cannot trip provider
// rate limits.
type Client struct {
	log       logx.Logger
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter

	mu      sync.Mutex
	keyIdx  int
	clients []*openai.Client
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, ErrNoKeys
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	// Shuffle so restarts spread usage across keys instead of always
	// burning the first one.
	keys := append([]string(nil), cfg.APIKeys...)
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	clients := make([]*openai.Client, 0, len(keys))
	for _, key := range keys {
		oc := openai.DefaultConfig(key)
		oc.BaseURL = baseURL
		clients = append(clients, openai.NewClientWithConfig(oc))
	}

	log.Info("summarizer ready",
		logx.String("model", model),
		logx.Int("keys", len(clients)),
		logx.String("base_url", baseURL))

	return &Client{
		log:       log,
		model:     model,
		maxTokens: cfg.MaxTokens,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		clients:   clients,
	}, nil
}

// Summarize produces a summary for the given "sender: text" lines. Every
// configured key is tried at most once per call; the key that last worked
// stays current across calls.
func (c *Client) Summarize(ctx context.Context, lines []string) (string, error) {
	if len(lines) == 0 {
		return "", errors.New("no messages to summarize")
	}
	prompt := buildPrompt(lines)

	var lastErr error
	for attempt := 0; attempt < len(c.clients); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		cl, idx := c.current()
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := cl.CreateChatCompletion(rctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens: c.maxTokens,
		})
		cancel()

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			lastErr = err
			c.log.Warn("summarizer request failed; rotating key", logx.Int("key", idx), logx.Err(err))
			c.rotate()
			continue
		}
		if len(resp.Choices) == 0 {
			c.log.Warn("summarizer returned no choices; rotating key", logx.Int("key", idx))
			c.rotate()
			continue
		}

		content := extractFinalAnswer(strings.TrimSpace(resp.Choices[0].Message.Content))
		if content == "" {
			c.log.Warn("summarizer returned empty content; rotating key", logx.Int("key", idx))
			c.rotate()
			continue
		}
		return content, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w (last: %v)", ErrNoSummary, lastErr)
	}
	return "", ErrNoSummary
}

func (c *Client) current() (*openai.Client, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.keyIdx], c.keyIdx
}

func (c *Client) rotate() {
	c.mu.Lock()
	c.keyIdx = (c.keyIdx + 1) % len(c.clients)
	c.mu.Unlock()
}

// extractFinalAnswer drops a reasoning model's thinking prefix, keeping
// only what follows the closing tag.
func extractFinalAnswer(s string) string {
	const endThink = "</think>"
	if i := strings.Index(s, endThink); i >= 0 {
		return strings.TrimSpace(s[i+len(endThink):])
	}
	return s
}

func buildPrompt(lines []string) string {
	var b strings.Builder
	b.WriteString("Below is a Telegram chat conversation. Please provide a concise summary ")
	b.WriteString("of the main topics, key points, and any decisions or action items mentioned. ")
	b.WriteString("Focus on the most important information.\n\n")
	b.WriteString("Chat conversation:\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
