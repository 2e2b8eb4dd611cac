package sync_test

import (
	"context"
	"net/http"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/cache"
	"github.com/nhle/insync/internal/ingest"
	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
	"github.com/nhle/insync/internal/reconcile"
	insync "github.com/nhle/insync/internal/sync"
	"github.com/nhle/insync/tests/testutil"
)

type harness struct {
	fake     *testutil.FakeAPI
	pipeline *insync.Pipeline
	rec      *reconcile.Reconciler
	metrics  *metrics.Collectors
	results  *recorder
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := testutil.NewFakeAPI(t)
	m := metrics.New(prometheus.NewRegistry())

	tok := testutil.ValidToken(t, userID)
	client := api.NewClient(f.BaseURL(), func() string { return tok }, 0, api.WithMetrics(m))

	ch := realtime.NewChannel("ws://"+f.Host(), realtime.WebsocketDialer{},
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
		realtime.WithReconnectInterval(20*time.Millisecond),
	)
	dec, err := ingest.NewDecoder()
	require.NoError(t, err)

	rec := reconcile.New(cache.NewMemoryStore(), client, m, log)
	p := insync.New(ch, ingest.NewIngestor(ch, dec, m, log), rec, log)
	t.Cleanup(p.Close)

	return &harness{fake: f, pipeline: p, rec: rec, metrics: m, results: record(t, p)}
}

// settle waits until the socket is open and both startup refreshes, the
// one run on start and the one triggered by Open, have been reported.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return countOf(h.results, isOpen) == 1 && countOf(h.results, anyMsg[insync.UnreadMsg]) >= 2
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.fake.SocketCount("u1"))
}

// recorder keeps every pipeline result so tests can assert on messages
// regardless of the order they arrived in.
type recorder struct {
	mu   gosync.Mutex
	msgs []tea.Msg
}

func record(t *testing.T, p *insync.Pipeline) *recorder {
	r := &recorder{}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case msg := <-p.Results():
				r.mu.Lock()
				r.msgs = append(r.msgs, msg)
				r.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
	return r
}

func matching[T tea.Msg](r *recorder, ok func(T) bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, msg := range r.msgs {
		if m, is := msg.(T); is && ok(m) {
			out = append(out, m)
		}
	}
	return out
}

func countOf[T tea.Msg](r *recorder, ok func(T) bool) int {
	return len(matching(r, ok))
}

// await waits until a recorded result of type T satisfies ok and returns
// the first such result.
func await[T tea.Msg](t *testing.T, r *recorder, ok func(T) bool) T {
	t.Helper()
	var got T
	require.Eventually(t, func() bool {
		ms := matching(r, ok)
		if len(ms) == 0 {
			return false
		}
		got = ms[0]
		return true
	}, 3*time.Second, 10*time.Millisecond, "waiting for %T", got)
	return got
}

func anyMsg[T tea.Msg](T) bool { return true }

func isOpen(m insync.ChannelStateMsg) bool { return m.State == realtime.Open }

func notificationWithID(id string) func(insync.NotificationMsg) bool {
	return func(m insync.NotificationMsg) bool { return m.Notification.ID == id }
}

func note(id string) model.Notification {
	return model.Notification{
		ID:            id,
		WorkspaceID:   "w1",
		WorkspaceName: "Core",
		TaskName:      "Task " + id,
		Message:       "line one;line two",
		CreatorName:   "Ada Lovelace",
		EventType:     model.EventTaskCreated,
		NotifiedAt:    model.NewTimestamp(time.Now()),
	}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestPipeline_EndToEnd(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline
	f.SetUnread("u1", note("n1"))

	require.NotNil(t, p.Start("u1"))
	h.settle(t)
	assert.Equal(t, realtime.Open, p.State())
	unread := matching(h.results, anyMsg[insync.UnreadMsg])
	assert.Equal(t, []string{"n1"}, ids(unread[len(unread)-1].Items))

	f.AddUnread("u1", note("n2"))
	require.NoError(t, f.PushNotification("u1", note("n2")))
	got := await(t, h.results, notificationWithID("n2"))
	assert.Equal(t, []string{"n2", "n1"}, ids(got.Items))
	assert.Equal(t, 2, got.Count)

	// A duplicate and a malformed frame change nothing; the next push
	// still goes through.
	require.NoError(t, f.PushNotification("u1", note("n2")))
	require.NoError(t, f.Push("u1", []byte(`{"oops":`)))
	f.AddUnread("u1", note("n3"))
	require.NoError(t, f.PushNotification("u1", note("n3")))

	got = await(t, h.results, notificationWithID("n3"))
	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(got.Items))
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, 1, countOf(h.results, notificationWithID("n2")))

	msg := p.MarkRead("n1")()
	after, ok := msg.(insync.UnreadMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, []string{"n3", "n2"}, ids(after.Items))
	assert.Equal(t, 2, after.Count)
}

func TestPipeline_MarkReadRefetchFailureIsAnError(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline
	f.SetUnread("u1", note("n2"), note("n3"))

	p.Start("u1")
	h.settle(t)
	f.AddUnread("u1", note("n1"))
	require.NoError(t, f.PushNotification("u1", note("n1")))
	await(t, h.results, notificationWithID("n1"))

	f.Fail("GET /notifications/unread", http.StatusInternalServerError)
	f.Fail("GET /notifications/unread-count", http.StatusInternalServerError)

	msg := p.MarkRead("n1")()
	errMsg, ok := msg.(insync.ErrorMsg)
	require.True(t, ok, "got %T", msg)
	assert.False(t, errMsg.Unauthenticated)
	assert.Equal(t, "Internal Server Error", api.Message(errMsg.Err))
	assert.Equal(t, []string{"n1"}, f.MarkReadCalls())
}

func TestPipeline_MarkReadUnauthenticatedRefetch(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline
	f.SetUnread("u1", note("n1"))

	p.Start("u1")
	h.settle(t)
	f.Fail("GET /notifications/unread", http.StatusUnauthorized)

	errMsg, ok := p.MarkRead("n1")().(insync.ErrorMsg)
	require.True(t, ok)
	assert.True(t, errMsg.Unauthenticated)
}

func TestPipeline_RefreshesAfterReconnect(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline

	p.Start("u1")
	h.settle(t)
	assert.Zero(t, countOf(h.results, hasItem("missed")))

	// Missed while the socket is down.
	f.DropSockets("u1")
	f.AddUnread("u1", note("missed"))

	await(t, h.results, func(m insync.ChannelStateMsg) bool { return m.State == realtime.ClosedError })
	require.Eventually(t, func() bool { return countOf(h.results, isOpen) == 2 }, 3*time.Second, 10*time.Millisecond)
	got := await(t, h.results, hasItem("missed"))
	assert.Equal(t, 1, got.Count)
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(h.metrics.Reconnects) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func hasItem(id string) func(insync.UnreadMsg) bool {
	return func(m insync.UnreadMsg) bool {
		for _, n := range m.Items {
			if n.ID == id {
				return true
			}
		}
		return false
	}
}

func TestPipeline_StopClosesSocket(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline

	p.Start("u1")
	require.Eventually(t, func() bool { return f.SocketCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	assert.Equal(t, realtime.Disconnected, p.State())
	assert.Empty(t, p.UserID())
	require.Eventually(t, func() bool { return f.SocketCount("u1") == 0 }, 2*time.Second, 10*time.Millisecond)

	msg := p.MarkRead("n1")()
	errMsg, ok := msg.(insync.ErrorMsg)
	require.True(t, ok)
	assert.True(t, errMsg.Unauthenticated)
}

func TestPipeline_ForgetClearsCache(t *testing.T) {
	h := newHarness(t, "u1")
	f, p := h.fake, h.pipeline
	f.SetUnread("u1", note("n1"))

	p.Start("u1")
	await(t, h.results, func(m insync.UnreadMsg) bool { return len(m.Items) == 1 })

	p.Forget()
	assert.Empty(t, p.UserID())
	list, count := h.rec.Cached(context.Background(), "u1")
	assert.Empty(t, list)
	assert.Zero(t, count)

	// Nothing to do when idle.
	assert.NotPanics(t, p.Forget)
}

func TestPipeline_StartIsIdempotentAndSubscribesOnce(t *testing.T) {
	h := newHarness(t, "u1")
	p := h.pipeline

	assert.NotNil(t, p.Start("u1"))
	assert.Nil(t, p.Start("u1"))
	assert.Equal(t, "u1", p.UserID())
}

func TestPipeline_RefreshErrorIsReported(t *testing.T) {
	log := zaptest.NewLogger(t)
	f := testutil.NewFakeAPI(t)
	// No token: every refresh is rejected.
	client := api.NewClient(f.BaseURL(), nil, 0)
	ch := realtime.NewChannel("ws://"+f.Host(), realtime.WebsocketDialer{}, realtime.WithLogger(log))
	dec, err := ingest.NewDecoder()
	require.NoError(t, err)
	p := insync.New(ch, ingest.NewIngestor(ch, dec, nil, log), reconcile.New(cache.NewMemoryStore(), client, nil, log), log)
	t.Cleanup(p.Close)

	results := record(t, p)
	p.Start("u1")
	errMsg := await(t, results, anyMsg[insync.ErrorMsg])
	assert.True(t, errMsg.Unauthenticated)
}
