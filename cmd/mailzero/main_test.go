package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailzero/mailzero/internal/db"
	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/logging"
	"github.com/mailzero/mailzero/internal/mail"
	"github.com/mailzero/mailzero/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote serves a fixed folder listing and records mutations
type fakeRemote struct {
	mu      sync.Mutex
	threads map[mail.Folder][]mail.Thread
	moved   map[string]mail.Destination
	labels  []string
	queries []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		threads: map[mail.Folder][]mail.Thread{
			mail.FolderInbox: {
				{ID: "t1", Subject: "Weekly digest", Sender: mail.Sender{Name: "News"}, ReceivedOn: "2026-10-01T10:00:00Z", Unread: true},
				{ID: "t2", Subject: "Invoice", Sender: mail.Sender{Email: "billing@example.com"}, ReceivedOn: "2026-09-30T10:00:00Z", Tags: []string{"INBOX", "Finance"}},
			},
		},
		moved: map[string]mail.Destination{},
	}
}

func (f *fakeRemote) ListThreads(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, opts.Query)
	var out []mail.Thread
	for _, t := range f.threads[opts.Folder] {
		if _, gone := f.moved[t.ID]; gone {
			continue
		}
		if opts.Query != "" && !strings.Contains(strings.ToLower(t.Subject), strings.ToLower(opts.Query)) {
			continue
		}
		out = append(out, t)
	}
	return &mail.Page{Threads: out}, nil
}

func (f *fakeRemote) GetThread(ctx context.Context, threadID string) ([]mail.Message, error) {
	return []mail.Message{{ID: threadID + "-m1", ThreadID: threadID, Subject: "Hello", PlainText: "body text", ReceivedOn: "2026-10-01T10:00:00Z"}}, nil
}

func (f *fakeRemote) MarkRead(ctx context.Context, ids []string) error   { return nil }
func (f *fakeRemote) MarkUnread(ctx context.Context, ids []string) error { return nil }

func (f *fakeRemote) ModifyLabels(ctx context.Context, threadIDs, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range threadIDs {
		for _, l := range add {
			f.labels = append(f.labels, id+"+"+l)
		}
		for _, l := range remove {
			f.labels = append(f.labels, id+"-"+l)
		}
	}
	return nil
}

func (f *fakeRemote) MoveThreads(ctx context.Context, threadIDs []string, d mail.Destination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range threadIDs {
		f.moved[id] = d
	}
	return nil
}

func (f *fakeRemote) GetAggregateStats(ctx context.Context, connectionID string) ([]mail.LabelCount, error) {
	return []mail.LabelCount{{Label: "inbox", Count: 1}, {Label: "spam", Count: 0}}, nil
}

func newTestApp(t *testing.T, remote *fakeRemote) (*app, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "mailzero.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	connections := db.NewConnectionStore(store)
	conn, err := connections.Save(ctx, db.Connection{UserID: "local", Email: "me@example.com", Name: "me@example.com"})
	require.NoError(t, err)

	var out bytes.Buffer
	logger := logging.Discard()
	a := &app{
		out:         &out,
		logger:      logger,
		connections: connections,
		notes:       db.NewNoteStore(store),
		connection:  conn,
		opts:        options{folder: "inbox", pages: 1},
	}
	a.mailbox = services.NewMailbox(services.MailboxOptions{
		Cache:    fetch.New(time.Minute),
		Remote:   remote,
		Notifier: services.NewWriterNotifier(&out, logger),
		PageSize: 20,
		Logger:   logger,
	}, conn.Identity())
	t.Cleanup(a.mailbox.Close)
	return a, &out
}

func TestDispatch_UnknownCommand(t *testing.T) {
	a, _ := newTestApp(t, newFakeRemote())
	assert.ErrorContains(t, a.dispatch(context.Background(), []string{"frobnicate"}), "unknown command")
	assert.ErrorContains(t, a.dispatch(context.Background(), nil), "missing command")
}

func TestCommandHelpListsEveryCommand(t *testing.T) {
	help := commandHelp()
	for _, c := range commands {
		assert.Contains(t, help, c.name)
	}
}

func TestList(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	require.NoError(t, a.dispatch(context.Background(), []string{"list"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "* t1"), lines[0])
	assert.Contains(t, lines[0], "Weekly digest")
	assert.Contains(t, lines[1], "billing@example.com")
	assert.Contains(t, lines[1], "[Finance]")
	assert.NotContains(t, lines[1], "[INBOX]")
}

func TestList_SearchAndEmpty(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	a.opts.search = "invoice"
	require.NoError(t, a.dispatch(context.Background(), []string{"list"}))
	assert.Contains(t, out.String(), "Invoice")
	assert.NotContains(t, out.String(), "Weekly digest")

	out.Reset()
	a.opts.search = ""
	a.opts.folder = "spam"
	require.NoError(t, a.dispatch(context.Background(), []string{"list"}))
	assert.Equal(t, "No threads.\n", out.String())

	out.Reset()
	a.opts.search = "nothing like this"
	require.NoError(t, a.dispatch(context.Background(), []string{"list"}))
	assert.Equal(t, "No threads in spam match \"nothing like this\".\n", out.String())
}

func TestList_SearchFetchesFilteredListOnly(t *testing.T) {
	remote := newFakeRemote()
	a, _ := newTestApp(t, remote)
	a.opts.search = "digest"
	require.NoError(t, a.dispatch(context.Background(), []string{"list"}))
	assert.Equal(t, []string{"digest"}, remote.queries)
}

func TestBulkCommandsRequireThreads(t *testing.T) {
	a, _ := newTestApp(t, newFakeRemote())
	for _, cmd := range []string{"read", "unread", "unsubscribe"} {
		assert.ErrorIs(t, a.dispatch(context.Background(), []string{cmd}), services.ErrNothingSelected, cmd)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 75, exitCode(fmt.Errorf("list threads: %w", mail.ErrTimeout)))
	assert.Equal(t, 75, exitCode(mail.ErrRateLimited))
	assert.Equal(t, 1, exitCode(mail.ErrUnauthorized))
	assert.Equal(t, 1, exitCode(errors.New("unknown command")))
}

func TestMove(t *testing.T) {
	remote := newFakeRemote()
	a, out := newTestApp(t, remote)
	ctx := context.Background()

	require.NoError(t, a.dispatch(ctx, []string{"move", "archive", "t1"}))
	assert.Equal(t, mail.DestinationArchive, remote.moved["t1"])
	assert.Contains(t, out.String(), "Moved 1 thread(s) to archive")
	assert.Zero(t, a.mailbox.Selection.Len())

	err := a.dispatch(ctx, []string{"move", "inbox", "t2"})
	assert.ErrorIs(t, err, services.ErrDestinationForbidden)
	assert.ErrorContains(t, a.dispatch(ctx, []string{"move", "nowhere", "t2"}), "unknown destination")
}

func TestLabel(t *testing.T) {
	remote := newFakeRemote()
	a, _ := newTestApp(t, remote)
	require.NoError(t, a.dispatch(context.Background(), []string{"label", "+Work", "-Old", "--", "t1", "t2"}))
	assert.Equal(t, []string{"t1+Work", "t1-Old", "t2+Work", "t2-Old"}, remote.labels)
}

func TestParseLabelArgs(t *testing.T) {
	add, remove, ids, err := parseLabelArgs([]string{"+A", "-B", "+C", "--", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, add)
	assert.Equal(t, []string{"B"}, remove)
	assert.Equal(t, []string{"x"}, ids)

	for _, args := range [][]string{
		{"+A", "x"},
		{"A", "--", "x"},
		{"--", "x"},
		{"+A", "--"},
	} {
		_, _, _, err := parseLabelArgs(args)
		assert.Error(t, err, args)
	}
}

func TestShow(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	require.NoError(t, a.dispatch(context.Background(), []string{"show", "t1"}))
	assert.Contains(t, out.String(), "Subject: Hello")
	assert.Contains(t, out.String(), "body text")
	assert.Contains(t, out.String(), "Web: https://mail.google.com/mail/u/0/#inbox/t1")
	assert.Error(t, a.dispatch(context.Background(), []string{"show"}))
}

func TestStats(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	require.NoError(t, a.dispatch(context.Background(), []string{"stats"}))
	assert.Equal(t, "inbox      1\nspam       0\n", out.String())
}

func TestNotes(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	ctx := context.Background()

	require.NoError(t, a.dispatch(ctx, []string{"notes", "t1"}))
	assert.Equal(t, "No notes.\n", out.String())

	out.Reset()
	require.NoError(t, a.dispatch(ctx, []string{"notes", "t1", "call", "back"}))
	assert.Contains(t, out.String(), "Added note ")

	out.Reset()
	require.NoError(t, a.dispatch(ctx, []string{"notes", "t1"}))
	assert.Contains(t, out.String(), "[default] call back")
}

func TestAccounts(t *testing.T) {
	a, out := newTestApp(t, newFakeRemote())
	require.NoError(t, a.dispatch(context.Background(), []string{"accounts"}))
	assert.True(t, strings.HasPrefix(out.String(), "* me@example.com"), out.String())
}

func TestFitWidth(t *testing.T) {
	assert.Equal(t, "abc  ", fitWidth("abc", 5))
	assert.Equal(t, "ab...", fitWidth("abcdefgh", 5))
	assert.Equal(t, "日本 ", fitWidth("日本", 5))
	assert.Equal(t, "", fitWidth("abc", 0))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "09:30", relativeTime("2026-10-18T09:30:00Z", now))
	assert.Equal(t, "Thu", relativeTime("2026-10-15T09:30:00Z", now))
	assert.Equal(t, "Mar 3", relativeTime("2026-03-03T09:30:00Z", now))
	assert.Equal(t, "03/03/25", relativeTime("2025-03-03T09:30:00Z", now))
	assert.Equal(t, "", relativeTime("not a date", now))
}
