package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/libledger-go/ledger"
	"github.com/bitfsorg/libledger-go/selector"
	"github.com/bitfsorg/libledger-go/tx"
)

// SplitResult is the outcome of a successful split.
type SplitResult struct {
	TransactionID string            `json:"transaction_id"`
	Fee           uint64            `json:"fee"`
	Input         ledger.Outpoint   `json:"input"`
	Outputs       []ledger.Outpoint `json:"outputs"`
	PartAmount    uint64            `json:"part_amount"`
}

// Split spends the signer's largest available output into count outputs of
// near-equal value, so that later publishes do not contend for one input.
// Failures release the reserved input exactly like a publish.
func (p *Pipeline) Split(ctx context.Context, count int) (*SplitResult, error) {
	if count < 2 {
		return nil, &FailedError{Stage: StageSelecting, Err: fmt.Errorf("%w: split count %d", tx.ErrInvalidParams, count)}
	}
	res, stage, err := p.split(ctx, count)
	if err != nil {
		prometheusPublishRuns.WithLabelValues("split", stage.String()).Inc()
		p.logger.Warn().Err(err).Str("stage", stage.String()).Int("count", count).Msg("split failed")
		return res, &FailedError{Stage: stage, Err: err}
	}
	prometheusPublishRuns.WithLabelValues("split", StageDone.String()).Inc()
	prometheusPublishFees.Add(float64(res.Fee))
	p.logger.Info().Str("txid", res.TransactionID).Int("count", count).Uint64("part", res.PartAmount).Msg("split")
	return res, nil
}

func (p *Pipeline) split(ctx context.Context, count int) (*SplitResult, Stage, error) {
	candidates, err := p.ledger.ListAvailable(ctx, p.signer.Address(), 0, ledger.Descending, 0)
	if err != nil {
		return nil, StageSelecting, err
	}
	lens := make([]int, count)
	for i := range lens {
		lens[i] = tx.P2PKHLockingScriptLen
	}
	fee := p.builder.Policy().Fee(tx.TxSize(1, lens...))
	chosen, err := selector.Select(candidates, selector.Request{
		Target: uint64(count) * tx.DustLimit,
		Fee:    func(int) uint64 { return fee },
	}, selector.LargestFirst)
	if err != nil {
		if errors.Is(err, selector.ErrInsufficientFunds) {
			err = fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		return nil, StageSelecting, err
	}
	if len(chosen) != 1 {
		return nil, StageSelecting, fmt.Errorf("%w: largest output does not cover %d parts", ErrInsufficientFunds, count)
	}

	input, err := p.ledger.ReserveOutput(ctx, chosen[0].Outpoint)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidStateTransition) || errors.Is(err, ledger.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrReservationConflict, err)
		}
		return nil, StageReserving, err
	}
	reserved := []*ledger.UnspentOutput{input}

	inputs, err := p.inputsFor(reserved)
	if err != nil {
		p.release(ctx, reserved)
		return nil, StageBuilding, err
	}
	built, err := p.builder.BuildSplit(&tx.SplitParams{
		Input:   inputs[0],
		Address: p.signer.Address(),
		Count:   count,
		Key:     p.signer.PrivateKey(),
	})
	if err != nil {
		p.release(ctx, reserved)
		return nil, StageBuilding, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	txid, err := p.submit(ctx, built.RawTx, built.TxID)
	if err != nil {
		p.release(ctx, reserved)
		return nil, StageBroadcasting, err
	}

	res := &SplitResult{
		TransactionID: txid,
		Fee:           built.Fee,
		Input:         input.Outpoint,
		PartAmount:    built.Outputs[0].Amount,
	}
	added := make([]*ledger.UnspentOutput, len(built.Outputs))
	for i, o := range built.Outputs {
		op := ledger.Outpoint{TxID: txid, Vout: o.Vout}
		res.Outputs = append(res.Outputs, op)
		added[i] = &ledger.UnspentOutput{
			Outpoint:      op,
			Satoshis:      o.Amount,
			LockingScript: built.LockingScript,
			OwnerAddress:  p.signer.Address(),
			Source:        ledger.SourceSplitOperation,
		}
	}
	if err := p.ledger.CommitSpend(context.WithoutCancel(ctx), []ledger.Outpoint{input.Outpoint}, txid, added); err != nil {
		return res, StageReconciling, fmt.Errorf("%w: tx %s: %w", ErrReconcileFailed, txid, err)
	}
	p.invalidate()
	return res, StageDone, nil
}
