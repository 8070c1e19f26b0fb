package gmail

import (
	"encoding/base64"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/mailzero/mailzero/internal/mail"
	"google.golang.org/api/gmail/v1"
)

var folderLabel = map[mail.Folder]string{
	mail.FolderInbox: mail.LabelInbox,
	mail.FolderSpam:  mail.LabelSpam,
	mail.FolderTrash: mail.LabelTrash,
	mail.FolderSent:  mail.LabelSent,
	mail.FolderDraft: mail.LabelDraft,
}

// folderFilter maps a folder onto list filters. Archive has no label of its own.
func folderFilter(f mail.Folder) (labels []string, query string, includeSpamTrash bool) {
	if f == mail.FolderArchive {
		return nil, archiveQuery, false
	}
	if id, ok := folderLabel[f]; ok {
		return []string{id}, "", f == mail.FolderSpam || f == mail.FolderTrash
	}
	// Unknown folders are treated as user label ids
	if f != "" {
		return []string{string(f)}, "", false
	}
	return nil, "", false
}

func moveLabels(d mail.Destination) (add, remove []string, err error) {
	switch d {
	case mail.DestinationArchive:
		return nil, []string{mail.LabelInbox}, nil
	case mail.DestinationSpam:
		return []string{mail.LabelSpam}, []string{mail.LabelInbox}, nil
	case mail.DestinationInbox:
		return []string{mail.LabelInbox}, []string{mail.LabelSpam, mail.LabelTrash}, nil
	}
	return nil, nil, fmt.Errorf("unsupported destination %q", d)
}

// threadSummary builds the list projection from a metadata thread fetch.
// Sender and date come from the newest message, the subject from the oldest.
func threadSummary(th *gmail.Thread) mail.Thread {
	t := mail.Thread{ID: th.Id, ThreadID: th.Id, Tags: []string{}}
	if len(th.Messages) == 0 {
		return t
	}
	first, last := th.Messages[0], th.Messages[len(th.Messages)-1]
	t.Subject = extractHeader(first, "Subject")
	t.Sender = parseSender(extractHeader(last, "From"))
	t.ReceivedOn = receivedOn(last)
	t.TotalReplies = len(th.Messages)

	seen := make(map[string]struct{})
	for _, m := range th.Messages {
		for _, l := range extractLabels(m) {
			if l == mail.LabelUnread {
				t.Unread = true
			}
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			t.Tags = append(t.Tags, l)
		}
	}
	return t
}

func toMessage(m *gmail.Message) mail.Message {
	labels := extractLabels(m)
	msg := mail.Message{
		ID:                  m.Id,
		ThreadID:            m.ThreadId,
		Sender:              parseSender(extractHeader(m, "From")),
		To:                  extractHeader(m, "To"),
		Subject:             extractHeader(m, "Subject"),
		ReceivedOn:          receivedOn(m),
		Tags:                labels,
		PlainText:           ExtractPlainText(m),
		HTML:                ExtractHTML(m),
		ListUnsubscribe:     extractHeader(m, "List-Unsubscribe"),
		ListUnsubscribePost: extractHeader(m, "List-Unsubscribe-Post"),
	}
	for _, l := range labels {
		if l == mail.LabelUnread {
			msg.Unread = true
			break
		}
	}
	return msg
}

func parseSender(from string) mail.Sender {
	from = strings.TrimSpace(from)
	if from == "" {
		return mail.Sender{}
	}
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return mail.Sender{Name: from, Email: from}
	}
	name := addr.Name
	if name == "" {
		name = addr.Address
	}
	return mail.Sender{Name: name, Email: addr.Address}
}

// receivedOn prefers the Date header and falls back to the internal timestamp
func receivedOn(m *gmail.Message) string {
	if d := extractHeader(m, "Date"); d != "" {
		return d
	}
	if m.InternalDate > 0 {
		return time.UnixMilli(m.InternalDate).UTC().Format(time.RFC1123Z)
	}
	return ""
}

func extractHeader(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, header := range msg.Payload.Headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func extractLabels(msg *gmail.Message) []string {
	if msg.LabelIds == nil {
		return []string{}
	}
	return msg.LabelIds
}

// ExtractPlainText extracts plain text content from a Gmail message
func ExtractPlainText(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	return extractPart(msg.Payload, "text/plain")
}

// ExtractHTML extracts HTML content from a Gmail message
func ExtractHTML(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	return extractPart(msg.Payload, "text/html")
}

func extractPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.Body != nil && part.Body.Data != "" && strings.EqualFold(part.MimeType, mimeType) {
		return decodeBody(part.Body.Data)
	}
	for _, p := range part.Parts {
		if s := extractPart(p, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func decodeBody(data string) string {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail sometimes omits padding
		raw, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(raw)
}

func encodeRaw(to, subject, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}
