package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// MirrorConfig wires a Mirror.
type MirrorConfig struct {
	Backend      Backend
	Signer       Signer
	History      *HistoryStore
	EventsURL    string
	ChainID      uint64
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Mirror is the client-side reflection of the ledger program: it owns the
// connection state machine, the reconciliation scheduler, the event
// subscription and the transaction pipeline, and exposes the resulting
// display state.
type Mirror struct {
	backend   Backend
	signer    Signer
	history   *HistoryStore
	view      *View
	scheduler *Scheduler
	pipeline  *Pipeline
	sm        *StateMachine
	logger    *slog.Logger

	eventsURL  string
	descriptor rpc.Descriptor

	bgMu      sync.Mutex
	bgCancel  context.CancelFunc
	bgWG      *sync.WaitGroup
	liveTasks atomic.Int32
}

// NewMirror builds a disconnected mirror. Connect must be called before any
// action.
func NewMirror(cfg MirrorConfig) *Mirror {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	view := NewView()
	scheduler := NewScheduler(cfg.Backend, view, cfg.PollInterval, logger)
	sm := NewStateMachine(cfg.ChainID)
	m := &Mirror{
		backend:   cfg.Backend,
		signer:    cfg.Signer,
		history:   cfg.History,
		view:      view,
		scheduler: scheduler,
		sm:        sm,
		logger:    logger.With("component", "mirror"),
		eventsURL: cfg.EventsURL,
	}
	m.pipeline = NewPipeline(cfg.Backend, cfg.Signer, cfg.History, scheduler, view, cfg.ChainID, sm.Current, logger)
	sm.SetCallbacks(m.startBackground, m.stopBackground)
	return m
}

// Connect validates the interface descriptor and brings the session up. A
// missing or malformed descriptor is a hard failure that leaves every
// mutating action disabled.
func (m *Mirror) Connect(ctx context.Context) error {
	if !m.sm.BeginConnect() {
		return fmt.Errorf("client: connect is not valid from state %s", m.sm.State())
	}
	descriptor, err := ValidateDescriptor(ctx, m.backend)
	if err != nil {
		m.sm.FailConnect()
		return err
	}
	m.descriptor = descriptor

	snap := m.sm.CompleteConnect(m.signer.Address(), descriptor.ChainID)
	if snap.State == StateWrongNetwork {
		return fmt.Errorf("client: %s (node chain %d)", Describe(ClassNetworkMismatch, nil), descriptor.ChainID)
	}
	return nil
}

// Disconnect tears the session down. All background loops are stopped before
// this returns; LiveBackgroundTasks is zero afterwards.
func (m *Mirror) Disconnect() {
	m.sm.Disconnect()
	m.view.Reset()
}

// NetworkChanged feeds a network identity change into the state machine.
func (m *Mirror) NetworkChanged(chainID uint64) Snapshot {
	return m.sm.NetworkChanged(chainID)
}

// startBackground launches the poll loop and event subscription for a fresh
// connected session. Any previous loops are fully stopped first, so stale
// subscriptions can never leak across reconnects.
func (m *Mirror) startBackground(snap Snapshot) {
	m.stopBackground()

	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	m.bgCancel = cancel
	m.bgWG = wg

	wg.Add(1)
	m.liveTasks.Add(1)
	go func() {
		defer wg.Done()
		defer m.liveTasks.Add(-1)
		m.scheduler.Run(ctx, snap.Address)
	}()

	if m.eventsURL != "" {
		subscriber := NewEventSubscriber(m.eventsURL, func(evt core.StreamEvent) {
			m.scheduler.HandleEvent(evt, snap.Address)
		}, m.logger)
		wg.Add(1)
		m.liveTasks.Add(1)
		go func() {
			defer wg.Done()
			defer m.liveTasks.Add(-1)
			subscriber.Run(ctx)
		}()
	}
	m.logger.Info("session up", "address", snap.Address.Hex(), "chain", snap.ChainID)
}

// stopBackground cancels and waits out every background loop.
func (m *Mirror) stopBackground() {
	m.bgMu.Lock()
	cancel := m.bgCancel
	wg := m.bgWG
	m.bgCancel = nil
	m.bgWG = nil
	m.bgMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}
}

// LiveBackgroundTasks counts the running background loops. Zero whenever the
// session is down.
func (m *Mirror) LiveBackgroundTasks() int {
	return int(m.liveTasks.Load())
}

// State returns the connection state.
func (m *Mirror) State() ConnState { return m.sm.State() }

// Session returns the current session snapshot.
func (m *Mirror) Session() Snapshot { return m.sm.Snapshot() }

// Descriptor returns the validated interface descriptor.
func (m *Mirror) Descriptor() rpc.Descriptor { return m.descriptor }

// View returns the current display snapshot.
func (m *Mirror) View() ViewSnapshot { return m.view.Snapshot() }

// Pipeline exposes the transaction pipeline state, e.g. for disabling action
// inputs while a run is in flight.
func (m *Mirror) Pipeline() *Pipeline { return m.pipeline }

// Increment submits one increment through the pipeline.
func (m *Mirror) Increment(ctx context.Context) (*Outcome, error) {
	return m.pipeline.Run(ctx, m.sm.Snapshot(), rpc.OpIncrement)
}

// Decrement submits one decrement through the pipeline.
func (m *Mirror) Decrement(ctx context.Context) (*Outcome, error) {
	return m.pipeline.Run(ctx, m.sm.Snapshot(), rpc.OpDecrement)
}

// Refresh forces one reconciliation cycle outside the schedule.
func (m *Mirror) Refresh(ctx context.Context) bool {
	snap := m.sm.Snapshot()
	if snap.State != StateConnected {
		return false
	}
	return m.scheduler.Refresh(ctx, snap.Address)
}

// History lists the session address's recent transactions, newest first.
func (m *Mirror) History() []TransactionRecord {
	snap := m.sm.Snapshot()
	if snap.State != StateConnected || m.history == nil {
		return nil
	}
	return m.history.List(snap.Address)
}
