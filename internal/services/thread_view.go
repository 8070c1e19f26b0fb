package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/mail"
)

// ThreadViewState is a snapshot of the open thread
type ThreadViewState struct {
	ThreadID  string
	Messages  []mail.Message // oldest first
	HasUnread bool
	IsLoading bool
	Err       error
}

// ThreadView fetches one thread and marks its unread messages read in the background
type ThreadView struct {
	mu     sync.Mutex
	cache  *fetch.Cache
	remote mail.Service
	list   Revalidator
	stats  Revalidator
	logger *log.Logger

	identity mail.Identity
	threadID string
	gen      uint64
	loading  bool
	messages []mail.Message
	err      error

	watchers []func(ThreadViewState)
	bg       sync.WaitGroup
}

// NewThreadView creates a thread controller. list and stats are revalidated
// after mutations of the open thread and may be nil.
func NewThreadView(cache *fetch.Cache, remote mail.Service, list, stats Revalidator) *ThreadView {
	if list == nil {
		list = noopRevalidator{}
	}
	if stats == nil {
		stats = noopRevalidator{}
	}
	return &ThreadView{cache: cache, remote: remote, list: list, stats: stats}
}

// SetLogger sets the logger for debug output
func (v *ThreadView) SetLogger(logger *log.Logger) {
	v.mu.Lock()
	v.logger = logger
	v.mu.Unlock()
}

func (v *ThreadView) logf(format string, args ...interface{}) {
	v.mu.Lock()
	l := v.logger
	v.mu.Unlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// AddWatcher registers a callback invoked after every state change
func (v *ThreadView) AddWatcher(fn func(ThreadViewState)) {
	if fn == nil {
		return
	}
	v.mu.Lock()
	v.watchers = append(v.watchers, fn)
	v.mu.Unlock()
}

// State returns the current snapshot
func (v *ThreadView) State() ThreadViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *ThreadView) stateLocked() ThreadViewState {
	return ThreadViewState{
		ThreadID:  v.threadID,
		Messages:  append([]mail.Message(nil), v.messages...),
		HasUnread: len(mail.UnreadIDs(v.messages)) > 0,
		IsLoading: v.loading,
		Err:       v.err,
	}
}

func (v *ThreadView) notifyLocked() {
	st := v.stateLocked()
	watchers := append([]func(ThreadViewState){}, v.watchers...)
	v.mu.Unlock()
	for _, w := range watchers {
		w(st)
	}
}

func (v *ThreadView) key() mail.ThreadKey {
	return mail.ThreadKey{UserID: v.identity.UserID, ThreadID: v.threadID, ConnectionID: v.identity.ConnectionID}
}

func (v *ThreadView) fetcher(threadID string) func(context.Context) ([]mail.Message, error) {
	return func(ctx context.Context) ([]mail.Message, error) {
		return v.remote.GetThread(ctx, threadID)
	}
}

// Open shows threadID. Nothing is fetched when threadID is empty or identity is
// incomplete. Unread messages are marked read after Open returns, followed by a
// list revalidation; Wait blocks until that finishes.
func (v *ThreadView) Open(ctx context.Context, identity mail.Identity, threadID string) error {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.identity = identity
	v.threadID = threadID
	v.messages, v.err = nil, nil
	if threadID == "" || !identity.Complete() {
		v.loading = false
		v.notifyLocked()
		return nil
	}
	v.loading = true
	key := v.key()
	v.notifyLocked()

	msgs, err := fetch.Load(ctx, v.cache, key, v.fetcher(threadID))

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		v.logf("thread: dropped stale result for %s", threadID)
		return nil
	}
	v.loading = false
	v.err = err
	v.messages = msgs
	v.notifyLocked()
	if err != nil {
		return err
	}

	if unread := mail.UnreadIDs(msgs); len(unread) > 0 {
		v.bg.Add(1)
		go v.markRead(context.WithoutCancel(ctx), threadID, unread)
	}
	return nil
}

func (v *ThreadView) markRead(ctx context.Context, threadID string, ids []string) {
	defer v.bg.Done()
	if err := v.remote.MarkRead(ctx, ids); err != nil {
		v.logf("thread: mark read %s failed: %v", threadID, err)
		return
	}
	if err := v.list.Mutate(ctx); err != nil {
		v.logf("thread: list revalidation after mark read failed: %v", err)
	}
}

// Wait blocks until background side effects of Open have finished
func (v *ThreadView) Wait() {
	v.bg.Wait()
}

// Close forgets the open thread and drops any fetch in flight
func (v *ThreadView) Close() {
	v.mu.Lock()
	v.gen++
	v.threadID = ""
	v.messages, v.err = nil, nil
	v.loading = false
	v.notifyLocked()
}

// Preload warms the cache for a thread without changing the view
func (v *ThreadView) Preload(ctx context.Context, identity mail.Identity, threadID string) error {
	if threadID == "" || !identity.Complete() {
		return nil
	}
	key := mail.ThreadKey{UserID: identity.UserID, ThreadID: threadID, ConnectionID: identity.ConnectionID}
	_, err := fetch.Load(ctx, v.cache, key, v.fetcher(threadID))
	return err
}

// Mutate refetches the open thread
func (v *ThreadView) Mutate(ctx context.Context) error {
	v.mu.Lock()
	if v.threadID == "" || !v.identity.Complete() {
		v.mu.Unlock()
		return nil
	}
	v.gen++
	gen := v.gen
	key := v.key()
	threadID := v.threadID
	v.loading = true
	v.notifyLocked()

	v.cache.Invalidate(key)
	msgs, err := fetch.Reload(ctx, v.cache, key, v.fetcher(threadID))

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return nil
	}
	v.loading = false
	v.err = err
	if err == nil {
		v.messages = msgs
	}
	v.notifyLocked()
	return err
}

func (v *ThreadView) current() (string, []mail.Message, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.threadID == "" {
		return "", nil, fmt.Errorf("no open thread: %w", ErrInvalidInput)
	}
	return v.threadID, append([]mail.Message(nil), v.messages...), nil
}

// ToggleStar stars or unstars the open thread based on its first message
func (v *ThreadView) ToggleStar(ctx context.Context) error {
	threadID, msgs, err := v.current()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("thread %s not loaded: %w", threadID, ErrInvalidInput)
	}
	var add, remove []string
	if msgs[0].HasTag(mail.LabelStarred) {
		remove = []string{mail.LabelStarred}
	} else {
		add = []string{mail.LabelStarred}
	}
	if err := v.remote.ModifyLabels(ctx, []string{threadID}, add, remove); err != nil {
		return fmt.Errorf("toggle star: %w", err)
	}
	if err := v.Mutate(ctx); err != nil {
		return err
	}
	return v.list.Mutate(ctx)
}

// MarkUnread marks every message of the open thread unread
func (v *ThreadView) MarkUnread(ctx context.Context) error {
	threadID, msgs, err := v.current()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("thread %s not loaded: %w", threadID, ErrInvalidInput)
	}
	if err := v.remote.MarkUnread(ctx, ids); err != nil {
		return fmt.Errorf("mark unread: %w", err)
	}
	if err := v.Mutate(ctx); err != nil {
		return err
	}
	return v.list.Mutate(ctx)
}

// Move sends the open thread to destination, revalidates the list and stats and closes the view
func (v *ThreadView) Move(ctx context.Context, current mail.Folder, destination mail.Destination) error {
	threadID, _, err := v.current()
	if err != nil {
		return err
	}
	if !allowed(current, destination) {
		return fmt.Errorf("move %s from %s to %s: %w", threadID, current, destination, ErrDestinationForbidden)
	}
	if err := v.remote.MoveThreads(ctx, []string{threadID}, destination); err != nil {
		return fmt.Errorf("move thread: %w", err)
	}
	v.Close()
	if err := v.list.Mutate(ctx); err != nil {
		return err
	}
	return v.stats.Mutate(ctx)
}

func allowed(folder mail.Folder, d mail.Destination) bool {
	for _, a := range mail.AvailableDestinations(folder) {
		if a == d {
			return true
		}
	}
	return false
}
