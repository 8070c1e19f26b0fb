package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var listStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func assertSortedDescending(t *testing.T, threads []mail.Thread) {
	t.Helper()
	for i := 1; i < len(threads); i++ {
		prev, ok1 := mail.ParseReceivedOn(threads[i-1].ReceivedOn)
		cur, ok2 := mail.ParseReceivedOn(threads[i].ReceivedOn)
		require.True(t, ok1 && ok2)
		assert.False(t, cur.After(prev), "thread %d is newer than thread %d", i, i-1)
	}
}

func TestThreadList_IncompleteIdentityDoesNotFetch(t *testing.T) {
	remote := new(MockMailService)
	list := NewThreadList(fetch.New(time.Minute), remote, 20)

	for _, id := range []mail.Identity{{}, {UserID: "u"}, {ConnectionID: "c"}} {
		require.NoError(t, list.Initialize(context.Background(), mail.FolderInbox, "", id))
		st := list.State()
		assert.Empty(t, st.Threads)
		assert.False(t, st.IsLoading)
		assert.False(t, st.IsReachingEnd)
		require.NoError(t, list.LoadMore(context.Background()))
		require.NoError(t, list.Mutate(context.Background()))
	}
	remote.AssertNotCalled(t, "ListThreads", mock.Anything, mock.Anything)
}

func TestThreadList_TwoPageScenario(t *testing.T) {
	remote := new(MockMailService)
	p1 := &mail.Page{Threads: makeThreads("a", 20, listStart), NextPageToken: "A"}
	// Page two interleaves with page one by date
	p2 := &mail.Page{Threads: makeThreads("b", 5, listStart.Add(-30*time.Minute))}
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(p1, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(p2, nil).Once()

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	assert.False(t, list.State().IsReachingEnd)
	assert.Equal(t, "A", list.State().NextPageToken)

	require.NoError(t, list.LoadMore(ctx))
	require.NoError(t, list.LoadMore(ctx))

	st := list.State()
	assert.True(t, st.IsReachingEnd)
	assert.False(t, st.IsEmpty)
	assert.Equal(t, 2, st.Pages)
	require.Len(t, st.Threads, 25)
	seen := map[string]bool{}
	for _, th := range st.Threads {
		assert.False(t, seen[th.Key()], "duplicate %s", th.Key())
		seen[th.Key()] = true
	}
	assertSortedDescending(t, st.Threads)
	remote.AssertNumberOfCalls(t, "ListThreads", 2)
}

func TestThreadList_RequestCarriesKey(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, mail.ListOptions{
		ConnectionID: "conn-1", Folder: mail.FolderSpam, Query: "from:x", PageSize: 20,
	}).Return(&mail.Page{}, nil).Once()

	list := NewThreadList(fetch.New(time.Minute), remote, 0)
	require.NoError(t, list.Initialize(context.Background(), mail.FolderSpam, "from:x", testIdentity))
	remote.AssertExpectations(t)

	key, active := list.Key()
	assert.True(t, active)
	assert.Equal(t, mail.FolderSpam, key.Folder)
}

func TestThreadList_EmptyFirstPage(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, mock.Anything).Return(&mail.Page{}, nil).Once()

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	require.NoError(t, list.Initialize(context.Background(), mail.FolderInbox, "nothing", testIdentity))
	require.NoError(t, list.LoadMore(context.Background()))

	st := list.State()
	assert.True(t, st.IsEmpty)
	assert.True(t, st.IsReachingEnd)
	assert.Empty(t, st.Threads)
	remote.AssertNumberOfCalls(t, "ListThreads", 1)
}

func TestThreadList_EmptyPageWithTokenIsNotTheEnd(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 1, listStart), NextPageToken: "A"}, nil)
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(&mail.Page{NextPageToken: "B"}, nil)

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	require.NoError(t, list.Initialize(context.Background(), mail.FolderInbox, "", testIdentity))
	require.NoError(t, list.LoadMore(context.Background()))
	st := list.State()
	assert.False(t, st.IsReachingEnd)
	assert.Equal(t, "B", st.NextPageToken)
}

// blockingRemote serves list pages and lets a test hold chosen tokens in flight
type blockingRemote struct {
	MockMailService

	mu       sync.Mutex
	pages    map[string]*mail.Page
	hold     map[string]chan struct{}
	started  chan string
	inflight int32
	maxSeen  int32
	calls    int32
}

func newBlockingRemote(pages map[string]*mail.Page) *blockingRemote {
	return &blockingRemote{pages: pages, hold: map[string]chan struct{}{}, started: make(chan string, 16)}
}

func (b *blockingRemote) holdToken(token string) chan struct{} {
	ch := make(chan struct{})
	b.mu.Lock()
	b.hold[token] = ch
	b.mu.Unlock()
	return ch
}

func (b *blockingRemote) ListThreads(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	atomic.AddInt32(&b.calls, 1)
	n := atomic.AddInt32(&b.inflight, 1)
	defer atomic.AddInt32(&b.inflight, -1)
	for {
		m := atomic.LoadInt32(&b.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&b.maxSeen, m, n) {
			break
		}
	}
	key := string(opts.Folder) + "/" + opts.PageToken
	b.started <- key
	b.mu.Lock()
	ch := b.hold[key]
	page := b.pages[key]
	b.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page == nil {
		return nil, errors.New("no such page")
	}
	return page, nil
}

func TestThreadList_LoadMoreIsNoopWhileFetching(t *testing.T) {
	remote := newBlockingRemote(map[string]*mail.Page{
		"inbox/":  {Threads: makeThreads("a", 20, listStart), NextPageToken: "A"},
		"inbox/A": {Threads: makeThreads("b", 5, listStart.Add(-48*time.Hour)), NextPageToken: "B"},
	})
	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	<-remote.started

	release := remote.holdToken("inbox/A")
	done := make(chan error, 1)
	go func() { done <- list.LoadMore(ctx) }()
	<-remote.started

	assert.True(t, list.State().IsValidating)
	for i := 0; i < 3; i++ {
		require.NoError(t, list.LoadMore(ctx))
	}
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), atomic.LoadInt32(&remote.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.maxSeen))
	st := list.State()
	assert.Len(t, st.Threads, 25)
	assert.False(t, st.IsValidating)
}

func TestThreadList_NewKeySupersedesInFlightFetch(t *testing.T) {
	remote := newBlockingRemote(map[string]*mail.Page{
		"inbox/": {Threads: makeThreads("in", 3, listStart)},
		"spam/":  {Threads: makeThreads("sp", 2, listStart)},
	})
	release := remote.holdToken("inbox/")
	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- list.Initialize(ctx, mail.FolderInbox, "", testIdentity) }()
	<-remote.started
	assert.True(t, list.State().IsLoading)

	require.NoError(t, list.Initialize(ctx, mail.FolderSpam, "", testIdentity))
	<-remote.started
	close(release)
	require.NoError(t, <-done, "superseded fetch is dropped silently")

	st := list.State()
	require.Len(t, st.Threads, 2)
	assert.Equal(t, "sp00", st.Threads[0].Key())
	assert.NoError(t, st.Err)
}

func TestThreadList_PageFailureKeepsEarlierPages(t *testing.T) {
	remote := new(MockMailService)
	boom := errors.New("backend down")
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 20, listStart), NextPageToken: "A"}, nil)
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(nil, boom)

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	require.NoError(t, list.Initialize(context.Background(), mail.FolderInbox, "", testIdentity))
	err := list.LoadMore(context.Background())
	assert.ErrorIs(t, err, boom)

	st := list.State()
	assert.ErrorIs(t, st.Err, boom)
	assert.Len(t, st.Threads, 20)
	assert.False(t, st.IsReachingEnd)
}

func TestThreadList_FirstPageFailure(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, mock.Anything).Return(nil, mail.ErrUnauthorized).Once()

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	err := list.Initialize(context.Background(), mail.FolderInbox, "", testIdentity)
	assert.ErrorIs(t, err, mail.ErrUnauthorized)
	st := list.State()
	assert.ErrorIs(t, st.Err, mail.ErrUnauthorized)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Threads)
}

func TestThreadList_MutateRefetchesChainInOrder(t *testing.T) {
	remote := new(MockMailService)
	var order []string
	record := func(args mock.Arguments) { order = append(order, args.Get(1).(mail.ListOptions).PageToken) }

	p1 := makeThreads("a", 3, listStart)
	p2 := makeThreads("b", 2, listStart.Add(-24*time.Hour))
	remote.On("ListThreads", mock.Anything, tokenIs("")).Run(record).Return(&mail.Page{Threads: p1, NextPageToken: "A"}, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Run(record).Return(&mail.Page{Threads: p2}, nil).Once()

	list := NewThreadList(fetch.New(time.Hour), remote, 3)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	require.NoError(t, list.LoadMore(ctx))

	// A new thread arrives; page one's tail shifts onto page two and a02 shows up twice
	fresh := mail.Thread{ID: "new", ReceivedOn: listStart.Add(time.Hour).Format(time.RFC3339)}
	newP1 := []mail.Thread{fresh, p1[0], p1[1], p1[2]}
	newP2 := append([]mail.Thread{p1[2]}, p2...)
	remote.On("ListThreads", mock.Anything, tokenIs("")).Run(record).Return(&mail.Page{Threads: newP1, NextPageToken: "A"}, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Run(record).Return(&mail.Page{Threads: newP2}, nil).Once()

	require.NoError(t, list.Mutate(ctx))
	assert.Equal(t, []string{"", "A", "", "A"}, order)

	st := list.State()
	require.Len(t, st.Threads, 6)
	assert.Equal(t, "new", st.Threads[0].Key())
	assertSortedDescending(t, st.Threads)
	assert.True(t, st.IsReachingEnd)
}

func TestThreadList_MutateStopsWhenChainEnds(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 2, listStart), NextPageToken: "A"}, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(&mail.Page{Threads: makeThreads("b", 1, listStart.Add(-time.Hour*24))}, nil).Once()
	list := NewThreadList(fetch.New(time.Hour), remote, 2)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	require.NoError(t, list.LoadMore(ctx))

	// After revalidation everything fits on one page
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 2, listStart)}, nil).Once()
	require.NoError(t, list.Mutate(ctx))

	st := list.State()
	assert.Equal(t, 1, st.Pages)
	assert.True(t, st.IsReachingEnd)
	remote.AssertNumberOfCalls(t, "ListThreads", 3)
}

func TestThreadList_MutateFailureRetainsPages(t *testing.T) {
	remote := new(MockMailService)
	boom := errors.New("flaky")
	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 2, listStart), NextPageToken: "A"}, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(&mail.Page{Threads: makeThreads("b", 2, listStart.Add(-24*time.Hour))}, nil).Once()
	list := NewThreadList(fetch.New(time.Hour), remote, 2)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	require.NoError(t, list.LoadMore(ctx))

	remote.On("ListThreads", mock.Anything, tokenIs("")).Return(&mail.Page{Threads: makeThreads("a", 2, listStart), NextPageToken: "A"}, nil).Once()
	remote.On("ListThreads", mock.Anything, tokenIs("A")).Return(nil, boom).Once()

	err := list.Mutate(ctx)
	assert.ErrorIs(t, err, boom)
	st := list.State()
	assert.ErrorIs(t, st.Err, boom)
	assert.Len(t, st.Threads, 4)
}

func TestThreadList_WatchersSeeTransitions(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, mock.Anything).Return(&mail.Page{Threads: makeThreads("a", 1, listStart)}, nil)

	list := NewThreadList(fetch.New(time.Minute), remote, 20)
	var states []ThreadListState
	list.AddWatcher(func(st ThreadListState) { states = append(states, st) })
	list.AddWatcher(nil)

	require.NoError(t, list.Initialize(context.Background(), mail.FolderInbox, "", testIdentity))
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading)
	assert.False(t, states[1].IsLoading)
	assert.Len(t, states[1].Threads, 1)
}

func TestThreadList_CachedPageServedWithoutRefetch(t *testing.T) {
	remote := new(MockMailService)
	remote.On("ListThreads", mock.Anything, mock.Anything).Return(&mail.Page{Threads: makeThreads("a", 1, listStart)}, nil).Once()

	cache := fetch.New(time.Hour)
	list := NewThreadList(cache, remote, 20)
	ctx := context.Background()
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	require.NoError(t, list.Initialize(ctx, mail.FolderInbox, "", testIdentity))
	remote.AssertNumberOfCalls(t, "ListThreads", 1)
	assert.Len(t, list.State().Threads, 1)
}
