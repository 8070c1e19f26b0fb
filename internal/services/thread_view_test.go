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

func threadMessages(threadID string, unread ...bool) []mail.Message {
	msgs := make([]mail.Message, len(unread))
	for i, u := range unread {
		msgs[i] = mail.Message{ID: threadID + "-m" + string(rune('1'+i)), ThreadID: threadID, Unread: u}
	}
	return msgs
}

func TestThreadView_NoFetchWithoutThreadOrIdentity(t *testing.T) {
	remote := new(MockMailService)
	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)

	require.NoError(t, view.Open(context.Background(), testIdentity, ""))
	require.NoError(t, view.Open(context.Background(), mail.Identity{UserID: "u"}, "t1"))
	view.Wait()

	remote.AssertNotCalled(t, "GetThread", mock.Anything, mock.Anything)
	assert.False(t, view.State().IsLoading)
	assert.Empty(t, view.State().Messages)
}

func TestThreadView_MarksExactlyUnreadMessagesThenRevalidatesList(t *testing.T) {
	remote := new(MockMailService)
	log := &callLog{}
	list := &recordingRevalidator{name: "list", log: log}
	msgs := threadMessages("t1", true, false, true)
	remote.On("GetThread", mock.Anything, "t1").Return(msgs, nil).Once()
	remote.On("MarkRead", mock.Anything, []string{"t1-m1", "t1-m3"}).
		Run(func(mock.Arguments) { log.add("markRead") }).
		Return(nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, list, nil)
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))

	st := view.State()
	assert.Equal(t, "t1", st.ThreadID)
	assert.True(t, st.HasUnread)
	assert.Len(t, st.Messages, 3)

	view.Wait()
	assert.Equal(t, []string{"markRead", "list"}, log.list())
	remote.AssertExpectations(t)
}

func TestThreadView_NoUnreadNoMarkRead(t *testing.T) {
	remote := new(MockMailService)
	log := &callLog{}
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false, false), nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, &recordingRevalidator{name: "list", log: log}, nil)
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	view.Wait()

	assert.False(t, view.State().HasUnread)
	remote.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
	assert.Empty(t, log.list())
}

func TestThreadView_MarkReadFailureSkipsListRevalidation(t *testing.T) {
	remote := new(MockMailService)
	log := &callLog{}
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", true), nil).Once()
	remote.On("MarkRead", mock.Anything, []string{"t1-m1"}).Return(errors.New("nope")).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, &recordingRevalidator{name: "list", log: log}, nil)
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	view.Wait()
	assert.Empty(t, log.list())
}

func TestThreadView_BackgroundWorkOutlivesCallerContext(t *testing.T) {
	remote := new(MockMailService)
	log := &callLog{}
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", true), nil).Once()
	remote.On("MarkRead", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), []string{"t1-m1"}).
		Return(nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, &recordingRevalidator{name: "list", log: log}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, view.Open(ctx, testIdentity, "t1"))
	cancel()
	view.Wait()
	remote.AssertExpectations(t)
}

// countingThreads serves GetThread and can hold a thread id in flight
type countingThreads struct {
	MockMailService
	calls   int32
	started chan string
	mu      sync.Mutex
	hold    map[string]chan struct{}
	threads map[string][]mail.Message
}

func (c *countingThreads) GetThread(ctx context.Context, threadID string) ([]mail.Message, error) {
	atomic.AddInt32(&c.calls, 1)
	c.started <- threadID
	c.mu.Lock()
	ch := c.hold[threadID]
	c.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return c.threads[threadID], nil
}

func TestThreadView_ConcurrentOpensShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	remote := &countingThreads{
		started: make(chan string, 4),
		hold:    map[string]chan struct{}{"t1": release},
		threads: map[string][]mail.Message{"t1": threadMessages("t1", false)},
	}
	cache := fetch.New(time.Minute)
	a := NewThreadView(cache, remote, nil, nil)
	b := NewThreadView(cache, remote, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.Open(context.Background(), testIdentity, "t1"))
	}()
	<-remote.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, b.Open(context.Background(), testIdentity, "t1"))
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.calls))
	assert.Len(t, a.State().Messages, 1)
	assert.Len(t, b.State().Messages, 1)
}

func TestThreadView_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	remote := &countingThreads{
		started: make(chan string, 4),
		hold:    map[string]chan struct{}{"t1": release},
		threads: map[string][]mail.Message{
			"t1": threadMessages("t1", false),
			"t2": threadMessages("t2", false, false),
		},
	}
	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)

	done := make(chan error, 1)
	go func() { done <- view.Open(context.Background(), testIdentity, "t1") }()
	<-remote.started

	require.NoError(t, view.Open(context.Background(), testIdentity, "t2"))
	<-remote.started
	close(release)
	require.NoError(t, <-done)

	st := view.State()
	assert.Equal(t, "t2", st.ThreadID)
	assert.Len(t, st.Messages, 2)
}

func TestThreadView_FailureSurfacedWithoutRetry(t *testing.T) {
	remote := new(MockMailService)
	remote.On("GetThread", mock.Anything, "t1").Return(nil, mail.ErrNotFound).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)
	err := view.Open(context.Background(), testIdentity, "t1")
	assert.ErrorIs(t, err, mail.ErrNotFound)

	st := view.State()
	assert.ErrorIs(t, st.Err, mail.ErrNotFound)
	assert.False(t, st.IsLoading)
	view.Wait()
	remote.AssertNumberOfCalls(t, "GetThread", 1)
}

func TestThreadView_PreloadWarmsCache(t *testing.T) {
	remote := new(MockMailService)
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false), nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)
	require.NoError(t, view.Preload(context.Background(), testIdentity, "t1"))
	assert.Empty(t, view.State().ThreadID, "preload leaves the view alone")

	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	assert.Len(t, view.State().Messages, 1)
	remote.AssertNumberOfCalls(t, "GetThread", 1)
}

func TestThreadView_ToggleStar(t *testing.T) {
	tests := []struct {
		name   string
		tags   []string
		add    []string
		remove []string
	}{
		{"star", []string{"INBOX"}, []string{mail.LabelStarred}, nil},
		{"unstar", []string{"INBOX", mail.LabelStarred}, nil, []string{mail.LabelStarred}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := new(MockMailService)
			log := &callLog{}
			msgs := []mail.Message{{ID: "m1", ThreadID: "t1", Tags: tt.tags}}
			remote.On("GetThread", mock.Anything, "t1").Return(msgs, nil)
			remote.On("ModifyLabels", mock.Anything, []string{"t1"}, tt.add, tt.remove).Return(nil).Once()

			view := NewThreadView(fetch.New(time.Minute), remote, &recordingRevalidator{name: "list", log: log}, nil)
			require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
			require.NoError(t, view.ToggleStar(context.Background()))

			remote.AssertExpectations(t)
			remote.AssertNumberOfCalls(t, "GetThread", 2)
			assert.Equal(t, []string{"list"}, log.list())
		})
	}
}

func TestThreadView_ToggleStarWithoutThread(t *testing.T) {
	view := NewThreadView(fetch.New(time.Minute), new(MockMailService), nil, nil)
	assert.ErrorIs(t, view.ToggleStar(context.Background()), ErrInvalidInput)
}

func TestThreadView_MarkUnread(t *testing.T) {
	remote := new(MockMailService)
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false, false), nil)
	remote.On("MarkUnread", mock.Anything, []string{"t1-m1", "t1-m2"}).Return(nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	require.NoError(t, view.MarkUnread(context.Background()))
	remote.AssertExpectations(t)
}

func TestThreadView_Move(t *testing.T) {
	remote := new(MockMailService)
	log := &callLog{}
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false), nil)
	remote.On("MoveThreads", mock.Anything, []string{"t1"}, mail.DestinationArchive).
		Run(func(mock.Arguments) { log.add("move") }).
		Return(nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote,
		&recordingRevalidator{name: "list", log: log},
		&recordingRevalidator{name: "stats", log: log})
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))

	err := view.Move(context.Background(), mail.FolderInbox, mail.DestinationInbox)
	assert.ErrorIs(t, err, ErrDestinationForbidden)

	require.NoError(t, view.Move(context.Background(), mail.FolderInbox, mail.DestinationArchive))
	assert.Equal(t, []string{"move", "list", "stats"}, log.list())
	assert.Empty(t, view.State().ThreadID)
}

func TestThreadView_Mutate(t *testing.T) {
	remote := new(MockMailService)
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false), nil).Once()
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false, false), nil).Once()

	view := NewThreadView(fetch.New(time.Hour), remote, nil, nil)
	require.NoError(t, view.Mutate(context.Background()), "nothing open is a no-op")
	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	require.NoError(t, view.Mutate(context.Background()))
	assert.Len(t, view.State().Messages, 2)
}

func TestThreadView_WatchersSeeLoadingThenMessages(t *testing.T) {
	remote := new(MockMailService)
	remote.On("GetThread", mock.Anything, "t1").Return(threadMessages("t1", false), nil).Once()

	view := NewThreadView(fetch.New(time.Minute), remote, nil, nil)
	var states []ThreadViewState
	view.AddWatcher(func(st ThreadViewState) { states = append(states, st) })
	view.AddWatcher(nil)

	require.NoError(t, view.Open(context.Background(), testIdentity, "t1"))
	view.Wait()

	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading)
	assert.Equal(t, "t1", states[0].ThreadID)
	assert.False(t, states[1].IsLoading)
	assert.Len(t, states[1].Messages, 1)
}
