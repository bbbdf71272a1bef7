// Package publish turns a payload into a broadcast data transaction.
//
// A run walks Idle → SelectingOutputs → Reserving → Building → Broadcasting
// → Reconciling → Done. Any non-terminal stage may move to Failed; failures
// after Reserving release every output the run reserved, so no output stays
// Reserved or becomes Spent without a successful broadcast.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/libledger-go/ledger"
	"github.com/bitfsorg/libledger-go/network"
	"github.com/bitfsorg/libledger-go/selector"
	"github.com/bitfsorg/libledger-go/tx"
)

// DefaultBroadcastTimeout bounds a single Submit call.
const DefaultBroadcastTimeout = 30 * time.Second

// Stage is a pipeline state.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageSelecting    Stage = "selecting_outputs"
	StageReserving    Stage = "reserving"
	StageBuilding     Stage = "building"
	StageBroadcasting Stage = "broadcasting"
	StageReconciling  Stage = "reconciling"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

func (s Stage) String() string { return string(s) }

// stageCount sizes the event buffer so emitting never blocks.
const stageCount = 8

const (
	evSelect    = "select"
	evReserve   = "reserve"
	evBuild     = "build"
	evBroadcast = "broadcast"
	evReconcile = "reconcile"
	evFinish    = "finish"
	evFail      = "fail"
)

// Signer is the wallet identity that owns and signs the spent outputs.
type Signer interface {
	Address() string
	PrivateKey() *ec.PrivateKey
	LockingScript() ([]byte, error)
}

// Invalidator drops cached upstream state for an address after a broadcast.
type Invalidator interface {
	Invalidate(address string)
}

// Event is a progress notification for one stage of a run.
type Event struct {
	Stage Stage
	At    time.Time
	Err   error // set on StageFailed
}

// Request describes a data publish.
type Request struct {
	// Payload is pushed after OP_FALSE OP_RETURN, one push per element.
	Payload [][]byte
	// Target is the minimum change the transaction must return. Zero means
	// any output that covers the fee will do.
	Target uint64
	// Policy overrides the pipeline's selection policy when set.
	Policy *selector.Policy
}

// Result is the outcome of a successful run.
type Result struct {
	TransactionID           string `json:"transaction_id"`
	Fee                     uint64 `json:"fee"`
	ChangeAmount            uint64 `json:"change_amount"`
	RemainingAvailableCount int    `json:"remaining_available_count"`
}

// Pipeline publishes data transactions funded from the ledger.
type Pipeline struct {
	ledger           *ledger.Ledger
	builder          *tx.Builder
	broadcaster      network.Broadcaster
	signer           Signer
	policy           selector.Policy
	broadcastTimeout time.Duration
	invalidator      Invalidator
	logger           zerolog.Logger
	now              func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the default selection policy. Data publishing defaults to
// SmallestFirst.
func WithPolicy(p selector.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithBroadcastTimeout bounds each Submit call.
func WithBroadcastTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.broadcastTimeout = d }
}

// WithInvalidator is told the signer's address after every broadcast.
func WithInvalidator(inv Invalidator) Option {
	return func(pl *Pipeline) { pl.invalidator = inv }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = logger }
}

// New creates a Pipeline.
func New(l *ledger.Ledger, b *tx.Builder, bc network.Broadcaster, signer Signer, opts ...Option) (*Pipeline, error) {
	switch {
	case l == nil:
		return nil, fmt.Errorf("%w: ledger", ErrNilParam)
	case b == nil:
		return nil, fmt.Errorf("%w: builder", ErrNilParam)
	case bc == nil:
		return nil, fmt.Errorf("%w: broadcaster", ErrNilParam)
	case signer == nil:
		return nil, fmt.Errorf("%w: signer", ErrNilParam)
	}
	initPrometheusMetrics()

	p := &Pipeline{
		ledger:           l,
		builder:          b,
		broadcaster:      bc,
		signer:           signer,
		policy:           selector.SmallestFirst,
		broadcastTimeout: DefaultBroadcastTimeout,
		logger:           zerolog.Nop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "publish").Str("address", signer.Address()).Logger()
	return p, nil
}

// Run is one pipeline execution.
type Run struct {
	events chan Event
	done   chan struct{}
	result *Result
	err    error
}

// Events delivers one event per stage entered, in order. The channel is
// closed when the run finishes.
func (r *Run) Events() <-chan Event { return r.events }

// Wait blocks until the run finishes. A run that failed after broadcasting
// returns the transaction id in Result alongside the error.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// Start begins a publish in the background.
func (p *Pipeline) Start(ctx context.Context, req Request) *Run {
	r := &Run{
		events: make(chan Event, stageCount),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer close(r.events)
		a := p.newAttempt(req, r.events)
		r.result, r.err = a.execute(ctx)
	}()
	return r
}

// Publish runs a publish to completion, discarding progress events.
func (p *Pipeline) Publish(ctx context.Context, req Request) (*Result, error) {
	return p.Start(ctx, req).Wait()
}

// attempt carries the state of one run.
type attempt struct {
	p          *Pipeline
	req        Request
	machine    *fsm.FSM
	events     chan<- Event
	entered    time.Time
	dataScript []byte
	reserved   []*ledger.UnspentOutput
	built      *tx.DataTx
	txid       string
}

func (p *Pipeline) newAttempt(req Request, events chan<- Event) *attempt {
	a := &attempt{p: p, req: req, events: events, entered: p.now()}
	nonTerminal := []string{
		StageIdle.String(), StageSelecting.String(), StageReserving.String(),
		StageBuilding.String(), StageBroadcasting.String(), StageReconciling.String(),
	}
	a.machine = fsm.NewFSM(
		StageIdle.String(),
		fsm.Events{
			{Name: evSelect, Src: []string{StageIdle.String()}, Dst: StageSelecting.String()},
			{Name: evReserve, Src: []string{StageSelecting.String()}, Dst: StageReserving.String()},
			{Name: evBuild, Src: []string{StageReserving.String()}, Dst: StageBuilding.String()},
			{Name: evBroadcast, Src: []string{StageBuilding.String()}, Dst: StageBroadcasting.String()},
			{Name: evReconcile, Src: []string{StageBroadcasting.String()}, Dst: StageReconciling.String()},
			{Name: evFinish, Src: []string{StageReconciling.String()}, Dst: StageDone.String()},
			{Name: evFail, Src: nonTerminal, Dst: StageFailed.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) { a.onEnter(e) },
		},
	)
	return a
}

// onEnter records the time spent in the stage being left and emits the
// event for the stage entered.
func (a *attempt) onEnter(e *fsm.Event) {
	now := a.p.now()
	if e.Src != StageIdle.String() {
		prometheusPublishStageDuration.WithLabelValues(e.Src).Observe(now.Sub(a.entered).Seconds())
	}
	a.entered = now

	ev := Event{Stage: Stage(e.Dst), At: now}
	if len(e.Args) > 0 {
		if err, ok := e.Args[0].(error); ok {
			ev.Err = err
		}
	}
	a.events <- ev
}

// advance fires a transition. Transitions never observe cancellation; the
// stage work itself does.
func (a *attempt) advance(ctx context.Context, event string, args ...interface{}) error {
	return a.machine.Event(context.WithoutCancel(ctx), event, args...)
}

func (a *attempt) stage() Stage { return Stage(a.machine.Current()) }

func (a *attempt) execute(ctx context.Context) (*Result, error) {
	steps := []struct {
		event string
		run   func(context.Context) error
	}{
		{evSelect, a.selectAndReserve},
		{evBuild, a.build},
		{evBroadcast, a.broadcast},
		{evReconcile, a.reconcile},
	}
	for _, s := range steps {
		if err := a.advance(ctx, s.event); err != nil {
			return nil, a.fail(ctx, fmt.Errorf("publish: %s: %w", s.event, err))
		}
		if err := s.run(ctx); err != nil {
			return a.partialResult(), a.fail(ctx, err)
		}
	}
	if err := a.advance(ctx, evFinish); err != nil {
		return a.partialResult(), a.fail(ctx, err)
	}

	res := a.partialResult()
	res.RemainingAvailableCount = a.remaining(ctx)
	prometheusPublishRuns.WithLabelValues("data", StageDone.String()).Inc()
	prometheusPublishFees.Add(float64(res.Fee))
	a.p.logger.Info().
		Str("txid", res.TransactionID).
		Uint64("fee", res.Fee).
		Uint64("change", res.ChangeAmount).
		Int("remaining", res.RemainingAvailableCount).
		Msg("published")
	return res, nil
}

// selectAndReserve runs SelectingOutputs and then Reserving.
func (a *attempt) selectAndReserve(ctx context.Context) error {
	selected, err := a.selectOutputs(ctx)
	if err != nil {
		return err
	}
	if err := a.advance(ctx, evReserve); err != nil {
		return err
	}
	return a.reserve(ctx, selected)
}

func (a *attempt) selectOutputs(ctx context.Context) ([]*ledger.UnspentOutput, error) {
	dataScript, err := tx.BuildDataScript(a.req.Payload...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	a.dataScript = dataScript

	candidates, err := a.p.ledger.ListAvailable(ctx, a.p.signer.Address(), 0, ledger.Ascending, 0)
	if err != nil {
		return nil, err
	}
	policy := a.p.policy
	if a.req.Policy != nil {
		policy = *a.req.Policy
	}
	feePolicy := a.p.builder.Policy()
	selected, err := selector.Select(candidates, selector.Request{
		Target: a.req.Target,
		Fee:    func(n int) uint64 { return feePolicy.DataFee(n, len(dataScript)) },
	}, policy)
	if err != nil {
		if errors.Is(err, selector.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return nil, err
	}
	return selected, nil
}

func (a *attempt) reserve(ctx context.Context, selected []*ledger.UnspentOutput) error {
	for _, out := range selected {
		got, err := a.p.ledger.ReserveOutput(ctx, out.Outpoint)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidStateTransition) || errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("%w: %w", ErrReservationConflict, err)
			}
			return err
		}
		a.reserved = append(a.reserved, got)
	}
	return nil
}

func (a *attempt) build(_ context.Context) error {
	inputs, err := a.p.inputsFor(a.reserved)
	if err != nil {
		return err
	}
	built, err := a.p.builder.BuildData(&tx.DataTxParams{
		Inputs:        inputs,
		ChangeAddress: a.p.signer.Address(),
		Payload:       a.req.Payload,
		Key:           a.p.signer.PrivateKey(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	if built.ChangeAmount < a.req.Target {
		return fmt.Errorf("%w: change %d below target %d", ErrInsufficientFunds, built.ChangeAmount, a.req.Target)
	}
	a.built = built
	return nil
}

func (a *attempt) broadcast(ctx context.Context) error {
	txid, err := a.p.submit(ctx, a.built.RawTx, a.built.TxID)
	if err != nil {
		return err
	}
	a.txid = txid
	return nil
}

// reconcile records the spend. Broadcast already succeeded, so it runs to
// completion even when ctx is canceled.
func (a *attempt) reconcile(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var added []*ledger.UnspentOutput
	if a.built.ChangeAmount > 0 {
		added = append(added, &ledger.UnspentOutput{
			Outpoint:      ledger.Outpoint{TxID: a.txid, Vout: a.built.ChangeVout},
			Satoshis:      a.built.ChangeAmount,
			LockingScript: a.built.ChangeScript,
			OwnerAddress:  a.p.signer.Address(),
			Source:        ledger.SourceChangeOutput,
		})
	}
	if err := a.p.ledger.CommitSpend(ctx, outpoints(a.reserved), a.txid, added); err != nil {
		return fmt.Errorf("%w: tx %s: %w", ErrReconcileFailed, a.txid, err)
	}
	a.reserved = nil
	a.p.invalidate()
	return nil
}

// fail compensates and moves the machine to Failed.
func (a *attempt) fail(ctx context.Context, err error) error {
	stage := a.stage()
	// A failed reconcile happens after broadcast: the inputs are gone
	// upstream and must not return to Available.
	if stage != StageReconciling {
		a.p.release(ctx, a.reserved)
		a.reserved = nil
	}
	failed := &FailedError{Stage: stage, Err: err}
	if ferr := a.advance(ctx, evFail, failed); ferr != nil {
		a.p.logger.Error().Err(ferr).Str("stage", stage.String()).Msg("fail transition rejected")
	}
	prometheusPublishRuns.WithLabelValues("data", stage.String()).Inc()
	a.p.logger.Warn().Err(err).Str("stage", stage.String()).Msg("publish failed")
	return failed
}

func (a *attempt) partialResult() *Result {
	if a.built == nil || a.txid == "" {
		return nil
	}
	return &Result{
		TransactionID: a.txid,
		Fee:           a.built.Fee,
		ChangeAmount:  a.built.ChangeAmount,
	}
}

func (a *attempt) remaining(ctx context.Context) int {
	stats, err := a.p.ledger.Stats(context.WithoutCancel(ctx), a.p.signer.Address())
	if err != nil {
		a.p.logger.Warn().Err(err).Msg("count remaining outputs")
		return 0
	}
	return stats.StatusBreakdown[ledger.StatusAvailable].Count
}

// inputsFor converts reserved outputs into builder inputs. Outputs tracked
// without a locking script pay the signer, so its P2PKH script is used.
func (p *Pipeline) inputsFor(outs []*ledger.UnspentOutput) ([]*tx.UTXO, error) {
	inputs := make([]*tx.UTXO, len(outs))
	for i, o := range outs {
		script := o.LockingScript
		if len(script) == 0 {
			var err error
			if script, err = p.signer.LockingScript(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
			}
		}
		inputs[i] = &tx.UTXO{TxID: o.TxID, Vout: o.Vout, Amount: o.Satoshis, ScriptPubKey: script}
	}
	return inputs, nil
}

// submit broadcasts raw under the broadcast timeout. A timeout is a
// transport failure. The locally computed txid wins over the one returned.
func (p *Pipeline) submit(ctx context.Context, raw []byte, txid string) (string, error) {
	bctx, cancel := context.WithTimeout(ctx, p.broadcastTimeout)
	defer cancel()

	got, err := p.broadcaster.Submit(bctx, raw)
	if errors.Is(err, network.ErrAlreadyInChain) {
		// An earlier broadcast of the same signed bytes landed.
		p.logger.Info().Str("txid", txid).Msg("transaction already in chain")
		return txid, nil
	}
	if err != nil {
		if bctx.Err() != nil && !errors.Is(err, network.ErrTransport) {
			err = fmt.Errorf("%w: %w", network.ErrTransport, err)
		}
		return "", fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	if got != "" && got != txid {
		p.logger.Warn().Str("returned", got).Str("computed", txid).Msg("broadcaster returned a different txid")
	}
	return txid, nil
}

// release returns outs to Available. It ignores cancellation so a canceled
// caller never leaves outputs Reserved.
func (p *Pipeline) release(ctx context.Context, outs []*ledger.UnspentOutput) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range outs {
		if err := p.ledger.Release(ctx, o.Outpoint); err != nil {
			p.logger.Error().Err(err).Stringer("outpoint", o.Outpoint).Msg("release reserved input")
			continue
		}
		prometheusPublishReleased.Inc()
	}
}

func (p *Pipeline) invalidate() {
	if p.invalidator != nil {
		p.invalidator.Invalidate(p.signer.Address())
	}
}

func outpoints(outs []*ledger.UnspentOutput) []ledger.Outpoint {
	keys := make([]ledger.Outpoint, len(outs))
	for i, o := range outs {
		keys[i] = o.Outpoint
	}
	return keys
}
