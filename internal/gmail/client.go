package gmail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/mailzero/mailzero/internal/mail"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	defaultUser        = "me"
	defaultConcurrency = 10
	maxConcurrency     = 15
	// Gmail caps batchModify at 1000 ids per request
	batchModifyLimit = 1000
)

// archiveQuery selects mail that lives in no system folder
const archiveQuery = "-in:inbox -in:spam -in:trash -in:sent -in:draft -in:chat"

var metadataHeaders = []string{"From", "To", "Subject", "Date", "List-Unsubscribe", "List-Unsubscribe-Post"}

// Client adapts the Gmail API to mail.Service
type Client struct {
	Service *gmail.Service

	user        string
	concurrency int
	logger      *log.Logger

	mu           sync.Mutex
	profileEmail string
}

var (
	_ mail.Service       = (*Client)(nil)
	_ mail.MessageSender = (*Client)(nil)
)

// NewClient creates a new Gmail client
func NewClient(service *gmail.Service) *Client {
	return &Client{Service: service, user: defaultUser, concurrency: defaultConcurrency}
}

// NewClientFromHTTP builds the Gmail service on an authorized HTTP client
func NewClientFromHTTP(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewClient(svc), nil
}

// SetConcurrency bounds the parallel metadata and modify requests.
// Values outside 1..15 fall back to the default.
func (c *Client) SetConcurrency(n int) {
	if n <= 0 || n > maxConcurrency {
		n = defaultConcurrency
	}
	c.concurrency = n
}

// SetLogger sets the logger for request tracing
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func (c *Client) ready() error {
	if c == nil || c.Service == nil {
		return errors.New("gmail client not initialized")
	}
	return nil
}

func (c *Client) limit() int {
	if c.concurrency <= 0 {
		return defaultConcurrency
	}
	return c.concurrency
}

// ActiveAccountEmail returns the authenticated address, cached after the first call
func (c *Client) ActiveAccountEmail(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	c.mu.Lock()
	cached := c.profileEmail
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	prof, err := c.Service.Users.GetProfile(c.user).Context(ctx).Do()
	if err != nil {
		return "", mapError("get profile", err)
	}
	c.mu.Lock()
	c.profileEmail = prof.EmailAddress
	c.mu.Unlock()
	return prof.EmailAddress, nil
}

// ListThreads returns one page of the folder listing with per-thread metadata
func (c *Client) ListThreads(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	call := c.Service.Users.Threads.List(c.user).Context(ctx)
	labels, query, includeSpamTrash := folderFilter(opts.Folder)
	labels = append(labels, opts.LabelIDs...)
	if len(labels) > 0 {
		call = call.LabelIds(labels...)
	}
	if q := joinQuery(query, opts.Query); q != "" {
		call = call.Q(q)
	}
	if includeSpamTrash {
		call = call.IncludeSpamTrash(true)
	}
	if opts.PageSize > 0 {
		call = call.MaxResults(opts.PageSize)
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	res, err := call.Do()
	if err != nil {
		return nil, mapError("list threads", err)
	}
	c.logf("gmail: listed %d threads in %s (next=%t)", len(res.Threads), opts.Folder, res.NextPageToken != "")

	threads, err := c.threadMetadata(ctx, res.Threads)
	if err != nil {
		return nil, err
	}
	return &mail.Page{
		Threads:            threads,
		NextPageToken:      res.NextPageToken,
		ResultSizeEstimate: res.ResultSizeEstimate,
	}, nil
}

// threadMetadata fetches the list projection of each thread in parallel, preserving order.
// Threads deleted between the listing and the metadata fetch are skipped.
func (c *Client) threadMetadata(ctx context.Context, refs []*gmail.Thread) ([]mail.Thread, error) {
	out := make([]*mail.Thread, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit())
	for i, ref := range refs {
		i, id := i, ref.Id
		g.Go(func() error {
			th, err := c.Service.Users.Threads.Get(c.user, id).
				Format("metadata").
				MetadataHeaders(metadataHeaders...).
				Context(gctx).
				Do()
			if err != nil {
				mapped := mapError("get thread metadata", err)
				if errors.Is(mapped, mail.ErrNotFound) {
					c.logf("gmail: thread %s vanished during listing", id)
					return nil
				}
				return mapped
			}
			summary := threadSummary(th)
			out[i] = &summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	threads := make([]mail.Thread, 0, len(out))
	for _, t := range out {
		if t != nil {
			threads = append(threads, *t)
		}
	}
	return threads, nil
}

// GetThread returns every message of a thread, oldest first
func (c *Client) GetThread(ctx context.Context, threadID string) ([]mail.Message, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	th, err := c.Service.Users.Threads.Get(c.user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError("get thread", err)
	}
	msgs := make([]mail.Message, 0, len(th.Messages))
	for _, m := range th.Messages {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// MarkRead removes UNREAD from the given message ids
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	return c.batchModify(ctx, "mark read", ids, nil, []string{mail.LabelUnread})
}

// MarkUnread adds UNREAD to the given message ids
func (c *Client) MarkUnread(ctx context.Context, ids []string) error {
	return c.batchModify(ctx, "mark unread", ids, []string{mail.LabelUnread}, nil)
}

func (c *Client) batchModify(ctx context.Context, op string, ids, add, remove []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.ready(); err != nil {
		return err
	}
	for start := 0; start < len(ids); start += batchModifyLimit {
		end := start + batchModifyLimit
		if end > len(ids) {
			end = len(ids)
		}
		req := &gmail.BatchModifyMessagesRequest{
			Ids:            ids[start:end],
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}
		if err := c.Service.Users.Messages.BatchModify(c.user, req).Context(ctx).Do(); err != nil {
			return mapError(op, err)
		}
	}
	return nil
}

// ModifyLabels adds and removes labels on whole threads
func (c *Client) ModifyLabels(ctx context.Context, threadIDs, addLabels, removeLabels []string) error {
	if len(threadIDs) == 0 || (len(addLabels) == 0 && len(removeLabels) == 0) {
		return nil
	}
	if err := c.ready(); err != nil {
		return err
	}
	req := &gmail.ModifyThreadRequest{AddLabelIds: addLabels, RemoveLabelIds: removeLabels}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit())
	for _, id := range threadIDs {
		id := id
		g.Go(func() error {
			if _, err := c.Service.Users.Threads.Modify(c.user, id, req).Context(gctx).Do(); err != nil {
				return mapError("modify thread "+id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// MoveThreads relabels threads so they show up in the destination folder
func (c *Client) MoveThreads(ctx context.Context, threadIDs []string, destination mail.Destination) error {
	add, remove, err := moveLabels(destination)
	if err != nil {
		return err
	}
	return c.ModifyLabels(ctx, threadIDs, add, remove)
}

// GetAggregateStats reads the folder counters. Inbox and spam report unread
// threads, the other folders report their total.
func (c *Client) GetAggregateStats(ctx context.Context, connectionID string) ([]mail.LabelCount, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	folders := []mail.Folder{mail.FolderInbox, mail.FolderSpam, mail.FolderDraft, mail.FolderSent, mail.FolderTrash}
	counts := make([]mail.LabelCount, len(folders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit())
	for i, f := range folders {
		i, f := i, f
		g.Go(func() error {
			lbl, err := c.Service.Users.Labels.Get(c.user, folderLabel[f]).Context(gctx).Do()
			if err != nil {
				return mapError("get label "+folderLabel[f], err)
			}
			n := lbl.ThreadsTotal
			if f == mail.FolderInbox || f == mail.FolderSpam {
				n = lbl.ThreadsUnread
			}
			counts[i] = mail.LabelCount{Label: string(f), Count: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logf("gmail: loaded stats for connection %s", connectionID)
	return counts, nil
}

// SendMessage sends a plain text message from the authenticated account
func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	if err := c.ready(); err != nil {
		return err
	}
	msg := &gmail.Message{Raw: encodeRaw(to, subject, body)}
	if _, err := c.Service.Users.Messages.Send(c.user, msg).Context(ctx).Do(); err != nil {
		return mapError("send message", err)
	}
	return nil
}

func joinQuery(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
