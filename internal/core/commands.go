package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sumbot/internal/history"
	"sumbot/internal/kit"
	"sumbot/internal/schedule"
	"sumbot/pkg/logx"
)

// Commands consumes the adapter's update stream: group messages are cached
// for later summarization, slash commands are dispatched. User mistakes are
// answered in-chat, not logged as errors.
type Commands struct {
	log     logx.Logger
	adapter kit.Adapter
	hist    *history.Store
	sum     Summarizer
	sched   *schedule.Manager

	maxMessages int
	maxChars    int
}

func NewCommands(adapter kit.Adapter, hist *history.Store, sum Summarizer, sched *schedule.Manager, maxMessages, maxChars int, log logx.Logger) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Commands{
		log:         log,
		adapter:     adapter,
		hist:        hist,
		sum:         sum,
		sched:       sched,
		maxMessages: maxMessages,
		maxChars:    maxChars,
	}
}

func (c *Commands) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m := up.Message
			if m == nil || strings.TrimSpace(m.Text) == "" {
				continue
			}
			if strings.HasPrefix(m.Text, "/") {
				c.handle(ctx, m)
				continue
			}
			if m.Group {
				if err := c.hist.Record(ctx, history.Message{
					ChatID: m.ChatID,
					MsgID:  m.ID,
					Sender: m.FromName,
					Body:   m.Text,
					At:     m.At,
				}); err != nil && ctx.Err() == nil {
					c.log.Warn("message cache write failed", logx.Int64("chat", m.ChatID), logx.Err(err))
				}
			}
		}
	}
}

func (c *Commands) handle(ctx context.Context, m *kit.Message) {
	name, args := splitCommand(m.Text)

	switch name {
	case "start", "help":
		c.reply(ctx, m, helpText)
	case "summarize":
		c.handleSummarize(ctx, m, args)
	case "schedule":
		c.handleSchedule(ctx, m, args)
	case "list_schedule":
		c.reply(ctx, m, renderScheduleList(c.sched.List(m.FromID), time.Now()))
	case "remove_schedule":
		c.handleRemove(ctx, m, args)
	case "list":
		c.handleList(ctx, m)
	default:
		// Unknown commands in groups are usually meant for other bots.
		if !m.Group {
			c.reply(ctx, m, "Unknown command. Try /help.")
		}
	}
}

// handleSchedule accepts "/schedule <interval>" for the current chat or
// "/schedule <chat_id> <interval>" to target another chat (useful from a
// private chat with the bot).
func (c *Commands) handleSchedule(ctx context.Context, m *kit.Message, args string) {
	fields := strings.Fields(args)
	target := m.ChatID
	var spec string
	switch len(fields) {
	case 1:
		spec = fields[0]
	case 2:
		id, ok := parseChatID(fields[0])
		if !ok {
			c.reply(ctx, m, fmt.Sprintf("%q is not a chat id.", fields[0]))
			return
		}
		target, spec = id, fields[1]
	default:
		c.reply(ctx, m, "Usage: /schedule [chat_id] <interval>, e.g. /schedule 30m")
		return
	}
	interval, ok := schedule.ParseTimeSpec(spec)
	if !ok {
		c.reply(ctx, m, fmt.Sprintf("Can't read %q. Use a number with s, m or h: 900s, 30m, 2h.", spec))
		return
	}

	err := c.sched.Add(ctx, target, m.FromID, interval)
	switch {
	case err == nil:
		if target == m.ChatID {
			c.reply(ctx, m, fmt.Sprintf("Scheduled: a summary of this chat every %s.", schedule.FormatInterval(interval)))
		} else {
			c.reply(ctx, m, fmt.Sprintf("Scheduled: a summary of chat %d every %s.", target, schedule.FormatInterval(interval)))
		}
	case errors.Is(err, schedule.ErrIntervalOutOfRange):
		c.reply(ctx, m, "Interval must be between 1m and 24h.")
	case errors.Is(err, schedule.ErrChatUnavailable):
		c.reply(ctx, m, "I can't access that chat; schedule not created.")
	default:
		c.log.Error("schedule add failed", logx.Int64("chat", target), logx.Err(err))
		c.reply(ctx, m, "Something went wrong creating the schedule.")
	}
}

// handleRemove accepts an optional chat id; without one it targets the
// current chat.
func (c *Commands) handleRemove(ctx context.Context, m *kit.Message, args string) {
	target, ok := targetChat(m, args)
	if !ok {
		c.reply(ctx, m, "Usage: /remove_schedule [chat_id]")
		return
	}
	err := c.sched.Remove(target, m.FromID)
	switch {
	case err == nil:
		c.reply(ctx, m, "Schedule removed.")
	case errors.Is(err, schedule.ErrNotFound):
		c.reply(ctx, m, "That chat has no scheduled summary.")
	case errors.Is(err, schedule.ErrNotOwner):
		c.reply(ctx, m, "Only the user who created the schedule can remove it.")
	default:
		c.log.Error("schedule remove failed", logx.Int64("chat", target), logx.Err(err))
		c.reply(ctx, m, "Something went wrong removing the schedule.")
	}
}

// handleSummarize runs a one-shot summary; an optional chat id targets a
// chat other than the current one. The result is always answered where the
// command was issued.
func (c *Commands) handleSummarize(ctx context.Context, m *kit.Message, args string) {
	target, ok := targetChat(m, args)
	if !ok {
		c.reply(ctx, m, "Usage: /summarize [chat_id]")
		return
	}

	title := m.ChatTitle
	if target != m.ChatID {
		info, err := c.adapter.ChatByID(ctx, target)
		if err != nil {
			c.reply(ctx, m, fmt.Sprintf("I can't access chat %d.", target))
			return
		}
		title = info.Title
	}

	lines, err := c.hist.Recent(ctx, target, c.maxMessages, c.maxChars)
	if err != nil {
		c.log.Error("history read failed", logx.Int64("chat", target), logx.Err(err))
		c.reply(ctx, m, "Something went wrong reading the chat history.")
		return
	}
	if len(lines) == 0 {
		c.reply(ctx, m, "I have no cached messages for that chat yet.")
		return
	}

	summary, err := c.sum.Summarize(ctx, lines)
	if err != nil {
		c.log.Warn("summarize failed", logx.Int64("chat", target), logx.Err(err))
		c.reply(ctx, m, "The summarizer is unavailable right now; try again later.")
		return
	}

	_, err = c.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, renderSummary(title, summary), &kit.SendOptions{
		ParseMode:      "MarkdownV2",
		DisablePreview: true,
	})
	if err != nil {
		c.log.Warn("summary send failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (c *Commands) handleList(ctx context.Context, m *kit.Message) {
	stats, err := c.hist.Chats(ctx)
	if err != nil {
		c.log.Error("chat list failed", logx.Err(err))
		c.reply(ctx, m, "Something went wrong listing chats.")
		return
	}
	c.reply(ctx, m, renderChatList(stats))
}

func (c *Commands) reply(ctx context.Context, m *kit.Message, text string) {
	if _, err := c.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil && ctx.Err() == nil {
		c.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func parseChatID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

// targetChat resolves the optional chat-id argument; an empty argument
// means the chat the command came from.
func targetChat(m *kit.Message, args string) (int64, bool) {
	arg := strings.TrimSpace(args)
	if arg == "" {
		return m.ChatID, true
	}
	return parseChatID(arg)
}

// splitCommand parses "/name@bot args" into a lowercase name and the raw
// argument tail.
func splitCommand(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head := text[1:]
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		head, args = head[:i], strings.TrimSpace(head[i+1:])
	}
	// Strip the @botname suffix used to disambiguate in groups.
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), args
}
