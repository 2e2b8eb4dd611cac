package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/ingest"
	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
	"github.com/nhle/insync/internal/reconcile"
)

// NotificationMsg is a tea.Msg sent when a pushed notification was new
// and has been merged into the cache. Items and Count are the cache
// contents after the merge.
type NotificationMsg struct {
	UserID       string
	Notification model.Notification
	Items        []model.Notification
	Count        int
}

// UnreadMsg is a tea.Msg carrying a fresh unread list and count.
type UnreadMsg struct {
	UserID string
	Items  []model.Notification
	Count  int
}

// ChannelStateMsg is a tea.Msg sent on every realtime state transition.
type ChannelStateMsg struct {
	State realtime.State
}

// ErrorMsg is a tea.Msg sent when a refresh or mark-read fails.
// Unauthenticated failures must route the user to the auth view.
type ErrorMsg struct {
	Err             error
	Unauthenticated bool
}

// fetchTimeout is the maximum time allowed for a single refresh.
const fetchTimeout = 30 * time.Second

// Pipeline wires the realtime channel, ingestion and the reconciler for
// one signed-in user at a time.
type Pipeline struct {
	channel    *realtime.Channel
	ingestor   *ingest.Ingestor
	reconciler *reconcile.Reconciler
	log        *zap.Logger

	resultCh  chan tea.Msg
	triggerCh chan struct{}

	mu      gosync.Mutex
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// subscribed is set once a waitForResult command has been handed out;
	// the consumer keeps it alive with WaitForNextResult.
	subscribed bool
}

// New creates a Pipeline. It registers itself for the channel's state
// changes.
func New(ch *realtime.Channel, ing *ingest.Ingestor, rec *reconcile.Reconciler, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		channel:    ch,
		ingestor:   ing,
		reconciler: rec,
		log:        logging.Component(log, "pipeline"),
		resultCh:   make(chan tea.Msg, 64),
		triggerCh:  make(chan struct{}, 1),
	}
	ch.OnStateChange(p.onChannelState)
	return p
}

// Start follows userID: the channel is pointed at it, pushes are merged
// into its cache, and the unread list is refreshed whenever the channel
// opens. Starting with a different user stops the previous one first.
// The first Start returns a command that waits for the first result.
func (p *Pipeline) Start(userID string) tea.Cmd {
	p.mu.Lock()
	if p.running && p.userID == userID {
		p.mu.Unlock()
		return p.subscribe()
	}
	p.mu.Unlock()

	p.Stop()
	if userID == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.userID = userID
	p.cancel = cancel
	p.done = done
	p.running = true
	p.mu.Unlock()

	p.channel.SetIdentity(userID)
	go p.run(ctx, userID, done)

	return p.subscribe()
}

func (p *Pipeline) subscribe() tea.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed {
		return nil
	}
	p.subscribed = true
	return p.waitForResult()
}

// Stop disconnects the channel and halts ingestion. The cache is kept.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.userID = ""
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	p.channel.SetIdentity("")
	cancel()
	<-done
}

// Forget stops the pipeline and drops the cache of the user it was
// following. It is meant to run as a session logout hook.
func (p *Pipeline) Forget() {
	userID := p.UserID()
	p.Stop()
	if userID == "" {
		return
	}
	if err := p.reconciler.Clear(context.Background(), userID); err != nil {
		p.log.Warn("clearing cache on logout", zap.String("user_id", userID), zap.Error(err))
	}
}

// Close stops the pipeline and tears the channel down for good.
func (p *Pipeline) Close() {
	p.Stop()
	p.channel.Close()
}

// UserID returns the user being followed, or "".
func (p *Pipeline) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// State returns the realtime channel state.
func (p *Pipeline) State() realtime.State {
	return p.channel.State()
}

// RefreshAll triggers an immediate refresh of the unread list and count.
func (p *Pipeline) RefreshAll() tea.Cmd {
	p.trigger()
	return nil
}

// MarkRead returns a command that marks id read and reports the server's
// refreshed list and count as an UnreadMsg, or an ErrorMsg when either
// step fails.
func (p *Pipeline) MarkRead(id string) tea.Cmd {
	userID := p.UserID()
	return func() tea.Msg {
		if userID == "" {
			return ErrorMsg{Err: model.ErrUnauthenticated, Unauthenticated: true}
		}

		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		items, count, err := p.reconciler.MarkRead(ctx, userID, id)
		if err != nil {
			p.log.Warn("marking notification read", zap.String("id", id), zap.Error(err))
			return ErrorMsg{Err: err, Unauthenticated: api.IsUnauthenticated(err)}
		}
		return UnreadMsg{UserID: userID, Items: items, Count: count}
	}
}

// Results exposes the raw result stream for headless consumers.
func (p *Pipeline) Results() <-chan tea.Msg {
	return p.resultCh
}

func (p *Pipeline) run(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)

	ingDone := make(chan struct{})
	go func() {
		defer close(ingDone)
		_ = p.ingestor.Run(ctx, p.handle)
	}()

	// Load the list straight away rather than waiting for the socket.
	p.refresh(ctx, userID)

	for {
		select {
		case <-ctx.Done():
			<-ingDone
			return
		case <-p.triggerCh:
			p.refresh(ctx, userID)
		}
	}
}

// handle merges one decoded push.
func (p *Pipeline) handle(ctx context.Context, userID string, n model.Notification) {
	if userID != p.UserID() {
		p.log.Debug("ignoring push for inactive user", zap.String("user_id", userID))
		return
	}
	if !p.reconciler.Merge(ctx, userID, n) {
		return
	}

	items, count := p.reconciler.Cached(ctx, userID)
	p.sendResult(NotificationMsg{
		UserID:       userID,
		Notification: n,
		Items:        items,
		Count:        count,
	})
}

func (p *Pipeline) refresh(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	items, count, err := p.reconciler.RefreshUnread(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("refreshing unread notifications", zap.Error(err))
		p.sendResult(ErrorMsg{Err: err, Unauthenticated: api.IsUnauthenticated(err)})
		return
	}
	p.sendResult(UnreadMsg{UserID: userID, Items: items, Count: count})
}

// onChannelState runs on the channel's goroutine, so it only signals.
func (p *Pipeline) onChannelState(s realtime.State) {
	p.sendResult(ChannelStateMsg{State: s})
	if s == realtime.Open {
		p.trigger()
	}
}

func (p *Pipeline) trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A refresh is already pending.
	}
}

// sendResult sends msg on the result channel without blocking.
func (p *Pipeline) sendResult(msg tea.Msg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the pipeline
	}
}

// waitForResult returns a tea.Cmd that waits for the next pipeline result.
func (p *Pipeline) waitForResult() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return msg
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next result.
// Call it after handling each pipeline message to keep listening.
func (p *Pipeline) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
