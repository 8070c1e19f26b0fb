package mail

import (
	"context"
	"errors"
)

// Folder is the path segment naming a mailbox partition
type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderSpam    Folder = "spam"
	FolderArchive Folder = "archive"
	FolderTrash   Folder = "trash"
	FolderDraft   Folder = "draft"
	FolderSent    Folder = "sent"
)

// System label ids as used by the provider
const (
	LabelInbox     = "INBOX"
	LabelSpam      = "SPAM"
	LabelTrash     = "TRASH"
	LabelSent      = "SENT"
	LabelDraft     = "DRAFT"
	LabelUnread    = "UNREAD"
	LabelImportant = "IMPORTANT"
	LabelStarred   = "STARRED"
)

// Destination is a folder-move target for thread moves
type Destination string

const (
	DestinationArchive Destination = "archive"
	DestinationSpam    Destination = "spam"
	DestinationInbox   Destination = "inbox"
)

// Valid reports whether d is one of the known move targets
func (d Destination) Valid() bool {
	switch d {
	case DestinationArchive, DestinationSpam, DestinationInbox:
		return true
	}
	return false
}

// Identity is the authenticated user plus the mail connection being browsed
type Identity struct {
	UserID       string
	ConnectionID string
}

// Complete reports whether both halves of the identity are known.
// An incomplete identity means "nothing to fetch", not an error.
func (i Identity) Complete() bool {
	return i.UserID != "" && i.ConnectionID != ""
}

// Sender is the display name and address of a message author
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Thread is the list-view projection of a conversation
type Thread struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId,omitempty"`
	Sender       Sender   `json:"sender"`
	Subject      string   `json:"subject"`
	ReceivedOn   string   `json:"receivedOn"`
	Unread       bool     `json:"unread"`
	Tags         []string `json:"tags"`
	TotalReplies int      `json:"totalReplies"`
}

// Key returns the thread identity used for opening and de-duplication
func (t Thread) Key() string {
	if t.ThreadID != "" {
		return t.ThreadID
	}
	return t.ID
}

// HasTag reports whether the thread carries the given label
func (t Thread) HasTag(tag string) bool {
	return containsString(t.Tags, tag)
}

// Message is one message of a fully fetched thread
type Message struct {
	ID                  string   `json:"id"`
	ThreadID            string   `json:"threadId"`
	Sender              Sender   `json:"sender"`
	To                  string   `json:"to"`
	Subject             string   `json:"subject"`
	ReceivedOn          string   `json:"receivedOn"`
	Unread              bool     `json:"unread"`
	Tags                []string `json:"tags"`
	PlainText           string   `json:"-"`
	HTML                string   `json:"-"`
	ListUnsubscribe     string   `json:"listUnsubscribe,omitempty"`
	ListUnsubscribePost string   `json:"listUnsubscribePost,omitempty"`
}

// HasTag reports whether the message carries the given label
func (m Message) HasTag(tag string) bool {
	return containsString(m.Tags, tag)
}

// Page is one fetch result of the thread listing
type Page struct {
	Threads            []Thread `json:"threads"`
	NextPageToken      string   `json:"nextPageToken,omitempty"`
	ResultSizeEstimate int64    `json:"resultSizeEstimate"`
}

// HasMore reports whether the listing continues after this page
func (p *Page) HasMore() bool {
	return p != nil && p.NextPageToken != ""
}

// LabelCount is one entry of the aggregate folder/label counters
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// ListOptions selects one page of a thread listing
type ListOptions struct {
	ConnectionID string
	Folder       Folder
	Query        string
	PageSize     int64
	LabelIDs     []string
	PageToken    string
}

// Service is the remote mail provider as seen by the client data layer
type Service interface {
	ListThreads(ctx context.Context, opts ListOptions) (*Page, error)
	GetThread(ctx context.Context, threadID string) ([]Message, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkUnread(ctx context.Context, ids []string) error
	ModifyLabels(ctx context.Context, threadIDs, addLabels, removeLabels []string) error
	MoveThreads(ctx context.Context, threadIDs []string, destination Destination) error
	GetAggregateStats(ctx context.Context, connectionID string) ([]LabelCount, error)
}

// MessageSender sends a plain text message; used for mailto unsubscribes
type MessageSender interface {
	SendMessage(ctx context.Context, to, subject, body string) error
}

// Remote failures, mapped by provider adapters
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTimeout            = errors.New("operation timed out")
)

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
