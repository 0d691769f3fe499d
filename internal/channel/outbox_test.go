package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockController is a testify mock of Controller.
type MockController struct {
	mock.Mock
}

func (m *MockController) PostMessage(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// recordingController keeps delivered messages in order.
type recordingController struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recordingController) PostMessage(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingController) delivered() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func cacheMsg(id string) Message {
	return Message{Type: CacheVideo, URL: "https://cdn.example/videos/" + id + "_720p.mp4"}
}

func TestOutbox_BuffersUntilAttachAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 3, time.Millisecond)

	require.NoError(t, o.Send(ctx, cacheMsg("1")))
	require.NoError(t, o.Send(ctx, Message{Type: DeleteVideo, URL: cacheMsg("1").URL}))
	require.NoError(t, o.Send(ctx, cacheMsg("2")))
	assert.Len(t, o.Pending(), 3)
	assert.False(t, o.Attached())

	rec := &recordingController{}
	o.Attach(rec)
	o.Wait()

	assert.Equal(t, []Message{cacheMsg("1"), {Type: DeleteVideo, URL: cacheMsg("1").URL}, cacheMsg("2")}, rec.delivered())
	assert.Empty(t, o.Pending())
}

func TestOutbox_SendWhileAttachedDeliversAsync(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 3, time.Millisecond)
	rec := &recordingController{}
	o.Attach(rec)

	for i := 0; i < 5; i++ {
		require.NoError(t, o.Send(ctx, cacheMsg(string(rune('a'+i)))))
	}
	o.Wait()

	got := rec.delivered()
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, cacheMsg(string(rune('a'+i))), m)
	}
}

func TestOutbox_RejectsMalformedMessages(t *testing.T) {
	o := NewOutbox(context.Background(), 3, time.Millisecond)
	assert.ErrorIs(t, o.Send(context.Background(), Message{Type: "BOGUS"}), ErrUnknownMessage)
	assert.Empty(t, o.Pending())
}

func TestOutbox_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 3, time.Millisecond)
	m := &MockController{}
	msg := cacheMsg("42")

	m.On("PostMessage", mock.Anything, msg).Return(errors.New("connection refused")).Twice()
	m.On("PostMessage", mock.Anything, msg).Return(nil).Once()

	require.NoError(t, o.Send(ctx, msg))
	o.Attach(m)
	o.Wait()

	m.AssertExpectations(t)
	assert.Empty(t, o.Pending())
}

func TestOutbox_KeepsCommandWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 2, time.Millisecond)
	m := &MockController{}
	msg := cacheMsg("42")
	m.On("PostMessage", mock.Anything, msg).Return(ErrNotActive)

	require.NoError(t, o.Send(ctx, msg))
	o.Attach(m)
	o.Wait()

	m.AssertNumberOfCalls(t, "PostMessage", 3)
	require.Len(t, o.Pending(), 1)
	assert.Equal(t, msg, o.Pending()[0].Message)

	err := o.Flush(ctx)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestOutbox_DropsRejectedCommands(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 5, time.Millisecond)
	m := &MockController{}
	bad := cacheMsg("bad")
	good := cacheMsg("good")
	m.On("PostMessage", mock.Anything, bad).Return(ErrRejected).Once()
	m.On("PostMessage", mock.Anything, good).Return(nil).Once()

	require.NoError(t, o.Send(ctx, bad))
	require.NoError(t, o.Send(ctx, good))
	o.Attach(m)
	o.Wait()

	m.AssertExpectations(t)
	assert.Empty(t, o.Pending())
}

func TestOutbox_DetachBuffersAgain(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 1, time.Millisecond)
	rec := &recordingController{}
	o.Attach(rec)
	o.Detach()

	require.NoError(t, o.Send(ctx, cacheMsg("1")))
	o.Wait()
	assert.Empty(t, rec.delivered())
	assert.Len(t, o.Pending(), 1)

	require.NoError(t, o.Flush(ctx), "flush without controller is a no-op")
	assert.Len(t, o.Pending(), 1)
}

func TestOutbox_PendingCommandsHaveIDs(t *testing.T) {
	ctx := context.Background()
	o := NewOutbox(ctx, 1, time.Millisecond)
	require.NoError(t, o.Send(ctx, cacheMsg("1")))
	require.NoError(t, o.Send(ctx, cacheMsg("2")))

	p := o.Pending()
	require.Len(t, p, 2)
	assert.NotEmpty(t, p[0].ID)
	assert.NotEqual(t, p[0].ID, p[1].ID)
}

func newWorkerStub(t *testing.T, state string, status int) (*httptest.Server, func() []Message) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var (
		mu       sync.Mutex
		received []Message
	)
	r := gin.New()
	r.GET("/sw/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": state})
	})
	r.GET("/sw/video", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"url": c.Query("url"), "cached": c.Query("url") == "https://cdn.example/a.mp4"})
	})
	r.POST("/sw/messages", func(c *gin.Context) {
		var m Message
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
		c.Status(status)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, func() []Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]Message(nil), received...)
	}
}

func TestHTTPController_PostMessage(t *testing.T) {
	srv, received := newWorkerStub(t, "active", http.StatusAccepted)
	h := NewHTTPController(srv.URL+"/", time.Second)

	require.NoError(t, h.PostMessage(context.Background(), cacheMsg("1")))
	assert.Equal(t, []Message{cacheMsg("1")}, received())

	state, err := h.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", state)

	cached, err := h.HasVideo(context.Background(), "https://cdn.example/a.mp4")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestHTTPController_MapsStatuses(t *testing.T) {
	unavailable, _ := newWorkerStub(t, "waiting", http.StatusServiceUnavailable)
	err := NewHTTPController(unavailable.URL, time.Second).PostMessage(context.Background(), cacheMsg("1"))
	assert.ErrorIs(t, err, ErrNotActive)

	rejected, _ := newWorkerStub(t, "active", http.StatusUnprocessableEntity)
	err = NewHTTPController(rejected.URL, time.Second).PostMessage(context.Background(), cacheMsg("1"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestWatcher_AttachesOnlyWhileActive(t *testing.T) {
	active, _ := newWorkerStub(t, "active", http.StatusAccepted)
	waiting, _ := newWorkerStub(t, "waiting", http.StatusServiceUnavailable)
	ctx := context.Background()

	o := NewOutbox(ctx, 1, time.Millisecond)
	NewWatcher(o, NewHTTPController(waiting.URL, time.Second), time.Hour).check(ctx)
	assert.False(t, o.Attached())

	w := NewWatcher(o, NewHTTPController(active.URL, time.Second), time.Hour)
	w.check(ctx)
	assert.True(t, o.Attached())

	active.Close()
	w.check(ctx)
	assert.False(t, o.Attached(), "unreachable worker detaches the outbox")
	o.Wait()
}
