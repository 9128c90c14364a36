package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/CryptoExplor/nexus-counter-app/core"
)

const (
	subscriberRedialDelay = 2 * time.Second
	subscriberMaxDelay    = 30 * time.Second
)

// EventSubscriber maintains the websocket subscription to the node's event
// stream, redialling with the last seen cursor so missed events are replayed.
// One subscriber exists per connection; it is torn down with the session.
type EventSubscriber struct {
	endpoint string
	handler  func(core.StreamEvent)
	logger   *slog.Logger
	lastSeq  atomic.Uint64
}

// NewEventSubscriber builds a subscriber against the ws endpoint. handler is
// invoked for every received event, in delivery order.
func NewEventSubscriber(endpoint string, handler func(core.StreamEvent), logger *slog.Logger) *EventSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSubscriber{
		endpoint: endpoint,
		handler:  handler,
		logger:   logger.With("component", "events"),
	}
}

// Run dials and reads the stream until ctx is cancelled, redialling with
// backoff on failure. Each redial resumes from the last delivered cursor.
func (es *EventSubscriber) Run(ctx context.Context) {
	delay := subscriberRedialDelay
	for {
		if ctx.Err() != nil {
			return
		}
		err := es.readStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			es.logger.Warn("event stream interrupted", "error", err, "retryIn", delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > subscriberMaxDelay {
			delay = subscriberMaxDelay
		}
	}
}

func (es *EventSubscriber) readStream(ctx context.Context) error {
	target := es.endpoint
	if last := es.lastSeq.Load(); last > 0 {
		u, err := url.Parse(es.endpoint)
		if err != nil {
			return err
		}
		q := u.Query()
		q.Set("cursor", strconv.FormatUint(last, 10))
		u.RawQuery = q.Encode()
		target = u.String()
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt core.StreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			es.logger.Warn("malformed stream event", "error", err)
			continue
		}
		if evt.Sequence > es.lastSeq.Load() {
			es.lastSeq.Store(evt.Sequence)
		}
		if es.handler != nil {
			es.handler(evt)
		}
	}
}
