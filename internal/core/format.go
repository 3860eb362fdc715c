package core

import (
	"fmt"
	"strings"
	"time"

	"sumbot/internal/history"
	"sumbot/internal/schedule"
)

// markdownEscapes covers every character MarkdownV2 treats as syntax.
const markdownEscapes = "_*[]()~`>#+-=|{}.!"

func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for _, r := range s {
		if r < 128 && strings.ContainsRune(markdownEscapes, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func renderScheduledSummary(title, summary string) string {
	return fmt.Sprintf("📝 *Scheduled Summary of %s*\n\n%s",
		escapeMarkdown(title), escapeMarkdown(summary))
}

func renderSummary(title, summary string) string {
	return fmt.Sprintf("📝 *Summary of %s*\n\n%s",
		escapeMarkdown(title), escapeMarkdown(summary))
}

func renderScheduleList(schedules []schedule.Schedule, now time.Time) string {
	if len(schedules) == 0 {
		return "You have no scheduled summaries."
	}
	var b strings.Builder
	b.WriteString("Your scheduled summaries:\n")
	for _, s := range schedules {
		fmt.Fprintf(&b, "• chat %d — every %s", s.ChatID, schedule.FormatInterval(s.Interval))
		if next := s.NextRun(); next.After(now) {
			fmt.Fprintf(&b, ", next in %s", schedule.FormatInterval(next.Sub(now).Round(time.Second)))
		} else {
			b.WriteString(", next shortly")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderChatList(stats []history.ChatStat) string {
	if len(stats) == 0 {
		return "No chats cached yet. Add me to a group and I will start listening."
	}
	var b strings.Builder
	b.WriteString("Chats I can summarize:\n")
	for _, st := range stats {
		fmt.Fprintf(&b, "• chat %d — %d messages cached\n", st.ChatID, st.Messages)
	}
	return strings.TrimRight(b.String(), "\n")
}

const helpText = `I summarize group chats with an LLM.

Commands:
/summarize [chat_id] — summarize recent messages (this chat by default)
/schedule [chat_id] <interval> — periodic summaries (e.g. 30m, 2h, 900s)
/list_schedule — show your scheduled summaries
/remove_schedule [chat_id] — stop a schedule
/list — chats I have cached messages for
/help — this message`
