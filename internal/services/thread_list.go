package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/mail"
)

// DefaultPageSize is the number of threads requested per page
const DefaultPageSize = 20

// ThreadListState is a snapshot of the paginated folder listing
type ThreadListState struct {
	Threads       []mail.Thread
	NextPageToken string
	Pages         int
	IsLoading     bool // fetching with nothing loaded yet
	IsValidating  bool // fetching while earlier data is shown
	Err           error
	IsReachingEnd bool
	IsEmpty       bool
}

// ThreadList pages through one folder listing. Pages are fetched strictly in
// order and at most one list request is in flight; a new key supersedes the old one.
type ThreadList struct {
	mu       sync.Mutex
	cache    *fetch.Cache
	remote   mail.Service
	pageSize int64
	logger   *log.Logger

	base     mail.ListKey
	active   bool
	gen      uint64
	cancel   context.CancelFunc
	fetching bool
	pages    []*mail.Page
	keys     []mail.ListKey
	threads  []mail.Thread
	err      error

	watchers []func(ThreadListState)
}

// NewThreadList creates a list controller; a non-positive pageSize uses DefaultPageSize
func NewThreadList(cache *fetch.Cache, remote mail.Service, pageSize int) *ThreadList {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ThreadList{cache: cache, remote: remote, pageSize: int64(pageSize)}
}

// SetLogger sets the logger for debug output
func (l *ThreadList) SetLogger(logger *log.Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// AddWatcher registers a callback invoked after every state change
func (l *ThreadList) AddWatcher(fn func(ThreadListState)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

// Key returns the listing key of the first page
func (l *ThreadList) Key() (mail.ListKey, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base, l.active
}

// State returns the current snapshot
func (l *ThreadList) State() ThreadListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *ThreadList) stateLocked() ThreadListState {
	st := ThreadListState{
		Threads: append([]mail.Thread(nil), l.threads...),
		Pages:   len(l.pages),
		Err:     l.err,
	}
	if l.fetching {
		st.IsLoading = len(l.pages) == 0
		st.IsValidating = len(l.pages) > 0
	}
	if n := len(l.pages); n > 0 {
		last := l.pages[n-1]
		st.NextPageToken = last.NextPageToken
		st.IsEmpty = len(l.pages[0].Threads) == 0
		st.IsReachingEnd = st.IsEmpty || !last.HasMore()
	}
	return st
}

// Initialize points the controller at a folder and search for identity and
// loads the first page. An incomplete identity leaves the list empty without a fetch.
func (l *ThreadList) Initialize(ctx context.Context, folder mail.Folder, search string, identity mail.Identity) error {
	l.mu.Lock()
	l.supersedeLocked()
	l.pages, l.keys, l.threads, l.err = nil, nil, nil, nil
	if !identity.Complete() {
		l.active = false
		l.base = mail.ListKey{}
		l.notifyLocked()
		return nil
	}
	l.active = true
	l.base = mail.ListKey{
		ConnectionID: identity.ConnectionID,
		Folder:       folder,
		Query:        search,
		PageSize:     l.pageSize,
	}
	key, _ := l.base.Next(nil)
	fctx, gen := l.beginLocked(ctx)
	l.notifyLocked()

	page, err := l.load(fctx, key, false)

	l.mu.Lock()
	defer l.notifyLocked()
	if !l.finishLocked(gen) {
		return nil
	}
	if err != nil {
		l.err = err
		return err
	}
	l.setPagesLocked([]*mail.Page{page}, []mail.ListKey{key})
	return nil
}

// LoadMore appends the next page. It is a no-op while a fetch is in flight
// or once the listing has no continuation token.
func (l *ThreadList) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	n := len(l.pages)
	if !l.active || l.fetching || n == 0 {
		l.mu.Unlock()
		return nil
	}
	key, ok := l.base.Next(l.pages[n-1])
	if !ok {
		l.mu.Unlock()
		return nil
	}
	fctx, gen := l.beginLocked(ctx)
	l.notifyLocked()

	page, err := l.load(fctx, key, false)

	l.mu.Lock()
	defer l.notifyLocked()
	if !l.finishLocked(gen) {
		return nil
	}
	if err != nil {
		l.err = err
		return err
	}
	l.err = nil
	l.setPagesLocked(append(l.pages, page), append(l.keys, key))
	return nil
}

// Mutate invalidates the loaded pages and refetches the chain in order, up to
// the number of pages loaded before. A failure keeps the pages refetched so far
// followed by the previously loaded pages from the failing position on.
func (l *ThreadList) Mutate(ctx context.Context) error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	l.supersedeLocked()
	oldPages := append([]*mail.Page(nil), l.pages...)
	oldKeys := append([]mail.ListKey(nil), l.keys...)
	base := l.base
	want := len(oldPages)
	if want == 0 {
		want = 1
	}
	fctx, gen := l.beginLocked(ctx)
	l.notifyLocked()

	for _, k := range oldKeys {
		l.cache.Invalidate(k)
	}

	var (
		pages []*mail.Page
		keys  []mail.ListKey
		err   error
	)
	var prev *mail.Page
	for i := 0; i < want; i++ {
		key, ok := base.Next(prev)
		if i > 0 && !ok {
			break
		}
		var page *mail.Page
		page, err = l.load(fctx, key, true)
		if err != nil {
			if i < len(oldPages) {
				pages = append(pages, oldPages[i:]...)
				keys = append(keys, oldKeys[i:]...)
			}
			break
		}
		pages = append(pages, page)
		keys = append(keys, key)
		prev = page
	}

	l.mu.Lock()
	defer l.notifyLocked()
	if !l.finishLocked(gen) {
		return nil
	}
	l.err = err
	l.setPagesLocked(pages, keys)
	return err
}

func (l *ThreadList) load(ctx context.Context, key mail.ListKey, force bool) (*mail.Page, error) {
	fn := func(ctx context.Context) (*mail.Page, error) {
		return l.remote.ListThreads(ctx, key.Options())
	}
	var (
		page *mail.Page
		err  error
	)
	if force {
		page, err = fetch.Reload(ctx, l.cache, key, fn)
	} else {
		page, err = fetch.Load(ctx, l.cache, key, fn)
	}
	if IsCanceled(err) && ctx.Err() == nil {
		// Joined a superseded request for the same key; start over
		l.cache.Invalidate(key)
		page, err = fetch.Reload(ctx, l.cache, key, fn)
	}
	if err == nil && page == nil {
		page = &mail.Page{}
	}
	return page, err
}

// supersedeLocked abandons any in-flight fetch so its result is dropped
func (l *ThreadList) supersedeLocked() {
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.fetching = false
}

// beginLocked marks a fetch as started under a fresh generation
func (l *ThreadList) beginLocked(ctx context.Context) (context.Context, uint64) {
	l.gen++
	fctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.fetching = true
	gen := l.gen
	if l.logger != nil {
		l.logger.Printf("threads: fetching %s/%q (gen %d)", l.base.Folder, l.base.Query, gen)
	}
	return fctx, gen
}

// finishLocked reports whether the fetch started at gen is still current
func (l *ThreadList) finishLocked(gen uint64) bool {
	if gen != l.gen {
		if l.logger != nil {
			l.logger.Printf("threads: dropped stale result (gen %d, current %d)", gen, l.gen)
		}
		return false
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.fetching = false
	return true
}

func (l *ThreadList) setPagesLocked(pages []*mail.Page, keys []mail.ListKey) {
	l.pages = pages
	l.keys = keys
	l.threads = mail.FlattenPages(pages)
}

// notifyLocked snapshots the state, releases the lock and runs the watchers
func (l *ThreadList) notifyLocked() {
	st := l.stateLocked()
	watchers := append([]func(ThreadListState){}, l.watchers...)
	l.mu.Unlock()
	for _, w := range watchers {
		w(st)
	}
}

// IsCanceled reports whether err came from a superseded fetch
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
