package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/CryptoExplor/nexus-counter-app/core/events"
)

const streamHistoryLimit = 1024

// StreamEvent is one ledger event as delivered to stream subscribers. The
// cursor is an opaque resume token; a reconnecting subscriber passes its last
// cursor and receives the missed backlog first.
type StreamEvent struct {
	Sequence uint64          `json:"sequence"`
	Cursor   string          `json:"cursor"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

func (n *Node) publishEvent(evt events.Event) {
	if n == nil || evt == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("encode stream event", "type", evt.EventType(), "error", err)
		return
	}

	n.streamMu.Lock()
	n.streamSeq++
	stored := StreamEvent{
		Sequence: n.streamSeq,
		Cursor:   strconv.FormatUint(n.streamSeq, 10),
		Type:     evt.EventType(),
		Data:     data,
	}
	n.streamHistory = append(n.streamHistory, stored)
	if len(n.streamHistory) > streamHistoryLimit {
		excess := len(n.streamHistory) - streamHistoryLimit
		trimmed := make([]StreamEvent, streamHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	for _, ch := range n.streamSubs {
		select {
		case ch <- stored:
		default:
			// Slow subscribers miss deliveries; they recover via the
			// cursor backlog or the client's poll fallback.
		}
	}
	n.streamMu.Unlock()

	if n.telemetry != nil {
		n.telemetry.ObserveEventPublished(stored.Type)
	}
}

// Subscribe registers an event stream subscriber starting after the supplied
// cursor. An empty cursor subscribes from now. The returned cancel func must
// be called to release the subscription.
func (n *Node) Subscribe(ctx context.Context, cursor string) (<-chan StreamEvent, func(), []StreamEvent, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("core: node not initialised")
	}
	var after uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("core: invalid cursor %q", cursor)
		}
		after = parsed
	}

	updates := make(chan StreamEvent, 32)
	id := uuid.NewString()

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[string]chan StreamEvent)
	}
	n.streamSubs[id] = updates
	subscriberCount := len(n.streamSubs)
	var backlog []StreamEvent
	if after > 0 {
		for _, evt := range n.streamHistory {
			if evt.Sequence > after {
				backlog = append(backlog, evt)
			}
		}
	}
	n.streamMu.Unlock()

	if n.telemetry != nil {
		n.telemetry.SetStreamSubscribers(subscriberCount)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			if sub, ok := n.streamSubs[id]; ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			remaining := len(n.streamSubs)
			n.streamMu.Unlock()
			if n.telemetry != nil {
				n.telemetry.SetStreamSubscribers(remaining)
			}
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
