package client

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// PipelineState is the lifecycle of one submitted action.
type PipelineState string

const (
	PipelineIdle              PipelineState = "idle"
	PipelineAwaitingSignature PipelineState = "awaiting_signature"
	PipelinePending           PipelineState = "pending"
	PipelineConfirmed         PipelineState = "confirmed"
	PipelineReverted          PipelineState = "reverted"
	PipelineFailed            PipelineState = "failed"
)

// DefaultConfirmTimeout bounds the wait for inclusion confirmation.
const DefaultConfirmTimeout = 60 * time.Second

// DefaultEventWindow bounds how long a confirmed write waits for its push
// event before forcing a fallback poll.
const DefaultEventWindow = 5 * time.Second

// Outcome reports how a pipeline run ended.
type Outcome struct {
	State   PipelineState
	Class   Classification
	Message string
	Receipt rpc.TxResult
	Err     error
}

// Pipeline drives one user action through submit, signature, confirmation and
// the dependent refreshes. Only one run may be in flight at a time; callers
// keep the action disabled for the run's full lifetime.
type Pipeline struct {
	backend   Backend
	signer    Signer
	history   *HistoryStore
	scheduler *Scheduler
	view      *View
	logger    *slog.Logger

	chainID        uint64
	confirmTimeout time.Duration
	eventWindow    time.Duration

	// sessionCheck verifies the snapshot is still the live session before
	// any post-confirmation effect is applied.
	sessionCheck func(Snapshot) bool

	busy  atomic.Bool
	state atomic.Value // PipelineState
}

// NewPipeline wires a transaction pipeline.
func NewPipeline(backend Backend, signer Signer, history *HistoryStore, scheduler *Scheduler, view *View, chainID uint64, sessionCheck func(Snapshot) bool, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		backend:        backend,
		signer:         signer,
		history:        history,
		scheduler:      scheduler,
		view:           view,
		logger:         logger.With("component", "pipeline"),
		chainID:        chainID,
		confirmTimeout: DefaultConfirmTimeout,
		eventWindow:    DefaultEventWindow,
		sessionCheck:   sessionCheck,
	}
	p.state.Store(PipelineIdle)
	return p
}

// SetWindows overrides the confirmation timeout and the post-confirmation
// event window. Tests only.
func (p *Pipeline) SetWindows(confirm, eventWindow time.Duration) {
	p.confirmTimeout = confirm
	p.eventWindow = eventWindow
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() PipelineState {
	return p.state.Load().(PipelineState)
}

func (p *Pipeline) setState(s PipelineState) { p.state.Store(s) }

// Run submits one action (rpc.OpIncrement or rpc.OpDecrement) for the session
// snapshot. It returns ErrPipelineBusy while another run is in flight.
func (p *Pipeline) Run(ctx context.Context, snap Snapshot, op string) (*Outcome, error) {
	if snap.State != StateConnected {
		return nil, ErrNotConnected
	}
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrPipelineBusy
	}
	defer func() {
		p.setState(PipelineIdle)
		p.busy.Store(false)
	}()

	p.setState(PipelineAwaitingSignature)

	// The fee read is a critical-path read: without it we would submit a
	// malformed payment, so failure blocks the action.
	fee, err := p.backend.Fee(ctx)
	if err != nil {
		p.setState(PipelineFailed)
		return &Outcome{
			State:   PipelineFailed,
			Class:   ClassCriticalRead,
			Message: Describe(ClassCriticalRead, err),
			Err:     err,
		}, nil
	}

	envelope := &rpc.TxEnvelope{
		From:  snap.Address.Hex(),
		Op:    op,
		Value: fee.String(),
		Nonce: uint64(time.Now().UnixNano()),
	}
	if err := p.signer.SignEnvelope(ctx, envelope, p.chainID); err != nil {
		if errors.Is(err, ErrSignatureRejected) {
			// Declined signatures return the pipeline to idle with no
			// history entry and no state change anywhere.
			return &Outcome{
				State:   PipelineIdle,
				Class:   ClassRejectedByCaller,
				Message: Describe(ClassRejectedByCaller, err),
				Err:     err,
			}, nil
		}
		p.setState(PipelineFailed)
		return &Outcome{State: PipelineFailed, Class: ClassUnknown, Message: err.Error(), Err: err}, nil
	}

	p.setState(PipelinePending)
	prevSeq := p.view.LastEventSeq()

	method := "counter_increment"
	if op == rpc.OpDecrement {
		method = "counter_decrement"
	}
	submitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	result, err := p.backend.Submit(submitCtx, method, envelope)
	if err != nil {
		class := Classify(err)
		state := PipelineFailed
		switch class {
		case ClassCooldownActive, ClassFeeMismatch, ClassCounterAtZero, ClassNotOwner:
			state = PipelineReverted
		}
		p.setState(state)
		p.logger.Warn("submission failed", "op", op, "class", string(class), "error", err)
		return &Outcome{State: state, Class: class, Message: Describe(class, err), Err: err}, nil
	}

	p.setState(PipelineConfirmed)
	p.logger.Info("action confirmed", "op", op, "tx", result.TxHash, "count", result.NewCount)

	// A confirmation that lands after a disconnect or account switch must
	// not touch the (stale) session's view or history.
	if p.sessionCheck != nil && !p.sessionCheck(snap) {
		p.logger.Info("session changed mid-flight, skipping local effects", "tx", result.TxHash)
		return &Outcome{State: PipelineConfirmed, Receipt: result}, nil
	}

	if p.history != nil {
		if err := p.history.Append(snap.Address, TransactionRecord{
			Type:      op,
			Hash:      result.TxHash,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			// History is display-only; a write failure never fails the run.
			p.logger.Warn("history append failed", "error", err)
		}
	}

	if p.scheduler != nil {
		p.scheduler.RefreshUser(ctx, snap.Address)
		p.scheduler.AwaitEventOrResync(ctx, snap.Address, prevSeq, p.eventWindow)
	}

	return &Outcome{State: PipelineConfirmed, Receipt: result}, nil
}
