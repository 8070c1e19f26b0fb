package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mailzero/mailzero/internal/db"
	"github.com/mailzero/mailzero/internal/mail"
	"github.com/mattn/go-runewidth"
)

const (
	minWidth     = 40
	defaultWidth = 100
	idWidth      = 16
	senderWidth  = 22
	dateWidth    = 8
)

// terminalWidth reads $COLUMNS, falling back to a fixed width
func terminalWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return defaultWidth
}

// renderThreads prints one line per thread:
// marker id | sender | subject [tags] | date
func renderThreads(w io.Writer, threads []mail.Thread, maxWidth int) {
	renderThreadsAt(w, threads, maxWidth, time.Now())
}

func renderThreadsAt(w io.Writer, threads []mail.Thread, maxWidth int, now time.Time) {
	if maxWidth < minWidth {
		maxWidth = minWidth
	}
	for _, t := range threads {
		marker := " "
		if t.Unread {
			marker = "*"
		}
		suffix := chips(t)
		if t.TotalReplies > 1 {
			suffix = fmt.Sprintf(" (%d)%s", t.TotalReplies, suffix)
		}
		// marker, space and three " | " separators
		subjectWidth := maxWidth - 2 - idWidth - senderWidth - dateWidth - 9 - runewidth.StringWidth(suffix)
		if subjectWidth < 10 {
			subjectWidth = 10
		}
		fmt.Fprintf(w, "%s %s | %s | %s%s | %s\n",
			marker,
			fitWidth(t.Key(), idWidth),
			fitWidth(senderLabel(t.Sender), senderWidth),
			fitWidth(orDefault(t.Subject, "(No subject)"), subjectWidth),
			suffix,
			fitWidth(relativeTime(t.ReceivedOn, now), dateWidth))
	}
}

// chips lists user labels as " [a] [b]"; system labels are hidden
func chips(t mail.Thread) string {
	var b strings.Builder
	for _, tag := range t.Tags {
		switch tag {
		case mail.LabelInbox, mail.LabelSpam, mail.LabelTrash, mail.LabelSent,
			mail.LabelDraft, mail.LabelUnread, mail.LabelImportant:
			continue
		case mail.LabelStarred:
			b.WriteString(" ★")
			continue
		}
		if strings.HasPrefix(tag, "CATEGORY_") {
			continue
		}
		fmt.Fprintf(&b, " [%s]", tag)
	}
	return b.String()
}

// renderMessages prints a thread as a sequence of header blocks and bodies
func renderMessages(w io.Writer, messages []mail.Message, maxWidth int) {
	if maxWidth < minWidth {
		maxWidth = minWidth
	}
	rule := strings.Repeat("─", maxWidth)
	for i, m := range messages {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "From:    %s\n", runewidth.Truncate(senderLabel(m.Sender)+senderAddress(m.Sender), maxWidth-9, "..."))
		if m.To != "" {
			fmt.Fprintf(w, "To:      %s\n", runewidth.Truncate(m.To, maxWidth-9, "..."))
		}
		fmt.Fprintf(w, "Date:    %s\n", m.ReceivedOn)
		fmt.Fprintf(w, "Subject: %s\n", runewidth.Truncate(orDefault(m.Subject, "(No subject)"), maxWidth-9, "..."))
		if m.ListUnsubscribe != "" {
			fmt.Fprintln(w, "List:    unsubscribe available")
		}
		fmt.Fprintln(w, rule)
		body := strings.TrimSpace(m.PlainText)
		if body == "" && m.HTML != "" {
			body = "(HTML only message)"
		}
		fmt.Fprintln(w, body)
	}
}

// renderNotes prints pinned notes first, as returned by the store
func renderNotes(w io.Writer, notes []*db.Note) {
	for _, n := range notes {
		pin := " "
		if n.IsPinned {
			pin = "^"
		}
		fmt.Fprintf(w, "%s %s [%s] %s\n", pin, n.ID, n.Color, n.Content)
	}
}

// fitWidth truncates and pads on the right to fit a fixed width
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.FillRight(runewidth.Truncate(s, width, "..."), width)
}

func senderLabel(s mail.Sender) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Email != "" {
		return s.Email
	}
	return "(No sender)"
}

func senderAddress(s mail.Sender) string {
	if s.Name == "" || s.Email == "" {
		return ""
	}
	return " <" + s.Email + ">"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// relativeTime renders a receivedOn timestamp the way list views do:
// clock time today, weekday within a week, day and month otherwise
func relativeTime(receivedOn string, now time.Time) string {
	t, ok := mail.ParseReceivedOn(receivedOn)
	if !ok {
		return ""
	}
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return t.Format("15:04")
	case now.Sub(t) < 7*24*time.Hour && now.After(t):
		return t.Format("Mon")
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("01/02/06")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
