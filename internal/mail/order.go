package mail

import (
	netmail "net/mail"
	"sort"
	"strings"
	"time"
)

var receivedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseReceivedOn parses the timestamp string carried by threads and messages.
// It reports false for anything it cannot read.
func ParseReceivedOn(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Strip trailing zone comments such as "(UTC)"
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, layout := range receivedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := netmail.ParseDate(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// SortThreads orders threads newest first. The sort is stable and an
// unparseable ReceivedOn counts as the earliest possible instant.
func SortThreads(threads []Thread) {
	type keyed struct {
		at time.Time
		ok bool
	}
	keys := make([]keyed, len(threads))
	idx := make([]int, len(threads))
	for i := range threads {
		idx[i] = i
		t, ok := ParseReceivedOn(threads[i].ReceivedOn)
		keys[i] = keyed{at: t, ok: ok}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		switch {
		case ka.ok && !kb.ok:
			return true
		case !ka.ok:
			return false
		}
		return ka.at.After(kb.at)
	})
	sorted := make([]Thread, len(threads))
	for i, j := range idx {
		sorted[i] = threads[j]
	}
	copy(threads, sorted)
}

// FlattenPages concatenates pages in order, drops repeated thread identities
// (first occurrence wins) and sorts the result newest first.
func FlattenPages(pages []*Page) []Thread {
	seen := make(map[string]struct{})
	var out []Thread
	for _, p := range pages {
		if p == nil {
			continue
		}
		for _, t := range p.Threads {
			k := t.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, t)
		}
	}
	SortThreads(out)
	return out
}

// NewestFirst returns a copy of messages in render order
func NewestFirst(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}

// UnreadIDs returns the ids of exactly the unread messages, in order
func UnreadIDs(messages []Message) []string {
	var ids []string
	for _, m := range messages {
		if m.Unread {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
