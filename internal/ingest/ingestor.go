package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
)

// Source is the channel surface the ingestor reads from.
type Source interface {
	Last() (realtime.Message, bool)
	Updates() <-chan struct{}
}

// HandlerFunc receives each decoded notification together with the
// identity whose socket delivered it.
type HandlerFunc func(ctx context.Context, userID string, n model.Notification)

// Ingestor watches a Source and decodes each new message exactly once.
type Ingestor struct {
	src     Source
	dec     *Decoder
	log     *zap.Logger
	metrics *metrics.Collectors

	mu      sync.Mutex
	lastSeq uint64
	current *model.Notification
}

// NewIngestor creates an Ingestor over src. m and log may be nil.
func NewIngestor(src Source, dec *Decoder, m *metrics.Collectors, log *zap.Logger) *Ingestor {
	return &Ingestor{
		src:     src,
		dec:     dec,
		log:     logging.Component(log, "ingest"),
		metrics: metrics.OrDefault(m),
	}
}

// Run processes messages until ctx is cancelled. handle is called on this
// goroutine, once per successfully decoded message.
func (i *Ingestor) Run(ctx context.Context, handle HandlerFunc) error {
	// A message may have landed before Run started.
	i.process(ctx, handle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.src.Updates():
			i.process(ctx, handle)
		}
	}
}

// Current returns the most recently decoded notification.
func (i *Ingestor) Current() (model.Notification, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return model.Notification{}, false
	}
	return *i.current, true
}

func (i *Ingestor) process(ctx context.Context, handle HandlerFunc) {
	msg, ok := i.src.Last()
	if !ok {
		return
	}

	i.mu.Lock()
	if msg.Seq <= i.lastSeq {
		i.mu.Unlock()
		return
	}
	i.lastSeq = msg.Seq
	i.mu.Unlock()

	n, err := i.dec.Decode(msg.Data)
	if err != nil {
		i.metrics.DecodeFailures.Inc()
		i.log.Debug("dropping undecodable message",
			zap.Uint64("seq", msg.Seq),
			zap.Error(err),
		)
		return
	}
	if !n.EventType.Known() {
		// Kept: the server may add types before the client knows them.
		i.log.Debug("unrecognised event type",
			zap.String("id", n.ID),
			zap.String("event_type", string(n.EventType)),
		)
	}

	i.mu.Lock()
	i.current = &n
	i.mu.Unlock()

	if handle != nil {
		handle(ctx, msg.UserID, n)
	}
}
