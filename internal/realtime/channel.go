// Package realtime maintains the per-user notification socket. At most one
// connection exists at a time; it follows the signed-in identity and is
// re-dialed on a fixed backoff after transport errors.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/metrics"
)

// DefaultReconnectInterval is the fixed retry backoff.
const DefaultReconnectInterval = 3000 * time.Millisecond

// DefaultWriteTimeout bounds a single Send.
const DefaultWriteTimeout = 5 * time.Second

// Conn is one open socket.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a Conn to a socket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Message is the most recent raw frame received. Seq increases by one per
// frame across the lifetime of the Channel, so consumers detect a new
// message by comparing Seq rather than contents.
type Message struct {
	Seq        uint64
	UserID     string
	Data       []byte
	ReceivedAt time.Time
}

// Channel is the realtime notification channel. It is safe for concurrent
// use.
type Channel struct {
	dialer       Dialer
	baseURL      string
	backoff      time.Duration
	writeTimeout time.Duration
	log          *zap.Logger
	metrics      *metrics.Collectors

	// lifecycle serializes SetIdentity and Close.
	lifecycle sync.Mutex

	mu       sync.Mutex
	identity string
	state    State
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	seq      uint64
	last     Message
	closed   bool
	onState  []func(State)

	updates chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithReconnectInterval sets the retry backoff.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithWriteTimeout sets the Send deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.log = logging.Component(l, "realtime") }
}

// WithMetrics records messages, reconnects and state on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel creates an idle channel. baseURL is the ws(s) origin the
// per-user path is appended to.
func NewChannel(baseURL string, dialer Dialer, opts ...Option) *Channel {
	c := &Channel{
		dialer:       dialer,
		baseURL:      baseURL,
		backoff:      DefaultReconnectInterval,
		writeTimeout: DefaultWriteTimeout,
		log:          logging.NewNop(),
		updates:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = metrics.OrDefault(c.metrics)
	return c
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the channel's goroutine and must not call SetIdentity or
// Close.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// SetIdentity points the channel at userID. An unchanged identity keeps
// the existing connection. A changed identity closes the old connection,
// waits for its reader to exit, then dials the new URL. An empty identity
// leaves the channel Disconnected.
func (c *Channel) SetIdentity(userID string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed || userID == c.identity {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.teardown()
	if userID == "" {
		return
	}

	url := EndpointURL(c.baseURL, userID)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.identity = userID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Debug("channel identity set", zap.String("user_id", userID), zap.String("url", url))
	go c.run(ctx, userID, url, done)
}

// Identity returns the identity the channel is following.
func (c *Channel) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Close tears the channel down for good. Later SetIdentity calls are
// ignored.
func (c *Channel) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// State returns the current ready-state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the most recent message for the current identity.
func (c *Channel) Last() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.Seq == 0 {
		return Message{}, false
	}
	return c.last, true
}

// Updates signals that Last has changed. It has capacity one, so a slow
// reader sees a single pending signal and then only the newest message.
func (c *Channel) Updates() <-chan struct{} {
	return c.updates
}

// Send writes payload when the channel is Open. Otherwise it logs a
// warning and does nothing. It reports whether the payload was written.
func (c *Channel) Send(payload []byte) bool {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != Open || conn == nil {
		c.log.Warn("send on channel that is not open", zap.Stringer("state", state))
		return false
	}

	if err := conn.WriteMessage(payload, time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return false
	}
	return true
}

// teardown stops the current reader and waits for it to exit. It must be
// called with lifecycle held.
func (c *Channel) teardown() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	if cancel != nil {
		cancel()
	}
	c.cancel, c.conn, c.done = nil, nil, nil
	c.identity = ""
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
	<-done

	// The reader has exited; drop the message and pending signal that
	// belonged to the old identity.
	c.mu.Lock()
	c.last = Message{}
	c.mu.Unlock()
	select {
	case <-c.updates:
	default:
	}
	c.setState(Disconnected)
}

// run dials and reads until ctx is cancelled, retrying after the fixed
// backoff whenever the dial fails or the connection drops.
func (c *Channel) run(ctx context.Context, userID, url string, done chan struct{}) {
	defer close(done)

	for {
		c.setState(Connecting)

		conn, err := c.dialer.Dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(&TransportError{URL: url, Err: err})
			if !c.wait(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.setState(Open)
		c.log.Info("channel open", zap.String("user_id", userID))

		err = c.read(conn, userID)
		stop()
		_ = conn.Close()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		c.fail(&TransportError{URL: url, Err: err})
		if !c.wait(ctx) {
			return
		}
	}
}

func (c *Channel) read(conn Conn, userID string) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.metrics.MessagesReceived.Inc()

		c.mu.Lock()
		c.seq++
		c.last = Message{
			Seq:        c.seq,
			UserID:     userID,
			Data:       data,
			ReceivedAt: time.Now(),
		}
		c.mu.Unlock()

		select {
		case c.updates <- struct{}{}:
		default:
		}
	}
}

func (c *Channel) fail(err error) {
	c.log.Warn("channel transport error, retrying",
		zap.Error(err),
		zap.Duration("backoff", c.backoff),
	)
	c.setState(ClosedError)
}

// wait sleeps for the backoff. It returns false if ctx ended first.
func (c *Channel) wait(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		c.metrics.Reconnects.Inc()
		return true
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hooks := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	c.metrics.ChannelState.Set(float64(s))
	c.log.Debug("channel state", zap.Stringer("state", s))
	for _, fn := range hooks {
		fn(s)
	}
}
