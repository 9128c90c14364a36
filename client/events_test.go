package client

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
	"github.com/CryptoExplor/nexus-counter-app/storage"
)

func startEventServer(t *testing.T) (*core.Node, string) {
	t.Helper()
	params := counter.DefaultParams()
	params.FeeWei = big.NewInt(0)
	params.Cooldown = 0
	node, err := core.NewNode(storage.NewMemDB(), 1337, sessionAddr(1), params, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(rpc.NewServer(node, "", nil).Router())
	t.Cleanup(srv.Close)
	return node, strings.Replace(srv.URL, "http", "ws", 1) + "/ws/events"
}

func TestEventSubscriberReceivesLiveEvents(t *testing.T) {
	node, eventsURL := startEventServer(t)

	var mu sync.Mutex
	var received []core.StreamEvent
	subscriber := NewEventSubscriber(eventsURL, func(evt core.StreamEvent) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Run(ctx)

	// The dial races the first publish, so keep publishing until the stream
	// delivers something.
	require.Eventually(t, func() bool {
		_, err := node.Increment(sessionAddr(2), nil)
		require.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	evt := received[0]
	mu.Unlock()
	require.Equal(t, "counter.changed", evt.Type)
	require.NotZero(t, evt.Sequence)
	require.NotEmpty(t, evt.Cursor)
}

func TestEventSubscriberResumesFromCursor(t *testing.T) {
	node, eventsURL := startEventServer(t)

	// Publish two events before anyone subscribes.
	_, err := node.Increment(sessionAddr(2), nil)
	require.NoError(t, err)
	_, err = node.Increment(sessionAddr(2), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var received []core.StreamEvent
	subscriber := NewEventSubscriber(eventsURL, func(evt core.StreamEvent) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	}, nil)
	subscriber.lastSeq.Store(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Run(ctx)

	// The backlog past the cursor arrives without any new publishes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	first := received[0]
	mu.Unlock()
	require.Equal(t, uint64(2), first.Sequence, "resume must skip already-seen events")
}
