package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/mail"
)

// MailboxOptions wires a Mailbox to its collaborators
type MailboxOptions struct {
	Cache            *fetch.Cache
	Remote           mail.Service
	Notifier         Notifier
	Unsubscriber     Unsubscriber
	PageSize         int
	UnsubscribeDelay time.Duration
	Logger           *log.Logger
}

// Mailbox is the view controller for one identity. It owns the selection and
// hands it to the list, the thread view and the bulk dispatcher.
type Mailbox struct {
	List      *ThreadList
	Thread    *ThreadView
	Stats     *Stats
	Selection *Selection
	Bulk      *BulkActions

	notifier Notifier
	logger   *log.Logger

	mu       sync.Mutex
	identity mail.Identity
	folder   mail.Folder
	search   string
}

// NewMailbox builds the controllers for identity, starting in the inbox
func NewMailbox(opts MailboxOptions, identity mail.Identity) *Mailbox {
	cache := opts.Cache
	if cache == nil {
		cache = fetch.New(0)
	}
	list := NewThreadList(cache, opts.Remote, opts.PageSize)
	stats := NewStats(cache, opts.Remote)
	selection := NewSelection()
	bulk := NewBulkActions(opts.Remote, list, stats, selection, opts.Notifier)
	if opts.Unsubscriber != nil {
		bulk.SetUnsubscriber(opts.Unsubscriber)
	}
	if opts.UnsubscribeDelay > 0 {
		bulk.SetUnsubscribeDelay(opts.UnsubscribeDelay)
	}
	m := &Mailbox{
		List:      list,
		Thread:    NewThreadView(cache, opts.Remote, list, stats),
		Stats:     stats,
		Selection: selection,
		Bulk:      bulk,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		identity:  identity,
		folder:    mail.FolderInbox,
	}
	if opts.Logger != nil {
		list.SetLogger(opts.Logger)
		stats.SetLogger(opts.Logger)
		bulk.SetLogger(opts.Logger)
		m.Thread.SetLogger(opts.Logger)
	}
	return m
}

// Identity returns the identity the mailbox browses
func (m *Mailbox) Identity() mail.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Folder returns the active folder
func (m *Mailbox) Folder() mail.Folder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folder
}

// Search returns the active search filter
func (m *Mailbox) Search() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.search
}

// Start loads the counters and the first page of folder filtered by search
func (m *Mailbox) Start(ctx context.Context, folder mail.Folder, search string) error {
	if err := m.Stats.Load(ctx, m.Identity()); err != nil && m.logger != nil {
		m.logger.Printf("mailbox: stats unavailable: %v", err)
	}
	m.mu.Lock()
	m.search = search
	m.mu.Unlock()
	return m.SetFolder(ctx, folder)
}

// SetFolder switches folders. The selection is always cleared.
func (m *Mailbox) SetFolder(ctx context.Context, folder mail.Folder) error {
	m.mu.Lock()
	m.folder = folder
	identity, search := m.identity, m.search
	m.mu.Unlock()

	m.Selection.Clear()
	return m.reload(ctx, folder, search, identity)
}

// SetSearch applies a search filter to the active folder
func (m *Mailbox) SetSearch(ctx context.Context, search string) error {
	m.mu.Lock()
	m.search = search
	identity, folder := m.identity, m.folder
	m.mu.Unlock()
	return m.reload(ctx, folder, search, identity)
}

func (m *Mailbox) reload(ctx context.Context, folder mail.Folder, search string, identity mail.Identity) error {
	err := m.List.Initialize(ctx, folder, search, identity)
	if err != nil && !IsCanceled(err) && m.notifier != nil {
		m.notifier.ShowError(ctx, failureMessage("load threads", err))
	}
	return err
}

// LoadMore fetches the next page of the active listing
func (m *Mailbox) LoadMore(ctx context.Context) error {
	return m.List.LoadMore(ctx)
}

// Click applies one activation of item. The mode is computed once from mods;
// a single activation opens the thread, or closes it when it is already open.
func (m *Mailbox) Click(ctx context.Context, mods Modifiers, item mail.Thread) error {
	mode := ModeFromModifiers(mods)
	m.Selection.Activate(mode, item, m.List.State().Threads)
	if mode != ModeSingle {
		return nil
	}
	open := m.Selection.OpenThread()
	if open == "" {
		m.Thread.Close()
		return nil
	}
	return m.Thread.Open(ctx, m.Identity(), open)
}

// Hover prefetches a thread the pointer rests on
func (m *Mailbox) Hover(ctx context.Context, item mail.Thread) error {
	return m.Thread.Preload(ctx, m.Identity(), item.Key())
}

// SelectAll toggles selection of the displayed threads
func (m *Mailbox) SelectAll(ctx context.Context) bool {
	if m.Selection.SelectAll(m.List.State().Threads) {
		return true
	}
	if m.notifier != nil {
		m.notifier.ShowInfo(ctx, "No emails to select")
	}
	return false
}

// AvailableActions lists the bulk moves for the active folder
func (m *Mailbox) AvailableActions() []mail.Destination {
	return m.Bulk.AvailableActions(m.Folder())
}

// Close waits for background work started by the thread view
func (m *Mailbox) Close() {
	m.Thread.Wait()
}
