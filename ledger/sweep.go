package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitfsorg/libledger-go/network"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long a reservation may stay open before the sweeper
// reconciles it against the chain.
const DefaultGrace = 10 * time.Minute

// sweepConcurrency bounds how many addresses are swept at once.
const sweepConcurrency = 4

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Discovered  int `json:"discovered"`
	Released    int `json:"released"`
	MarkedSpent int `json:"marked_spent"`
	Confirmed   int `json:"confirmed"`
}

func (r *SweepReport) add(o SweepReport) {
	r.Discovered += o.Discovered
	r.Released += o.Released
	r.MarkedSpent += o.MarkedSpent
	r.Confirmed += o.Confirmed
}

// Sweeper reconciles the ledger with the upstream unspent set.
type Sweeper struct {
	ledger    *Ledger
	chain     network.UnspentLister
	status    network.TxStatusProvider
	grace     time.Duration
	scriptFor func(address string) ([]byte, error)
	logger    zerolog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithGrace sets how old a reservation or an unknown spend must be before
// the sweeper acts on it.
func WithGrace(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.grace = d }
}

// WithStatusProvider lets the sweeper confirm spends with a known spending txid.
func WithStatusProvider(p network.TxStatusProvider) SweeperOption {
	return func(s *Sweeper) { s.status = p }
}

// WithScriptResolver supplies locking scripts for upstream outputs reported
// without one.
func WithScriptResolver(fn func(address string) ([]byte, error)) SweeperOption {
	return func(s *Sweeper) { s.scriptFor = fn }
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger zerolog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

// NewSweeper creates a Sweeper over l reading upstream state from chain.
func NewSweeper(l *Ledger, chain network.UnspentLister, opts ...SweeperOption) (*Sweeper, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: ledger", ErrNilParam)
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: chain", ErrNilParam)
	}
	s := &Sweeper{
		ledger: l,
		chain:  chain,
		grace:  DefaultGrace,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "sweeper").Logger()
	return s, nil
}

// Sync inserts upstream outputs of address that the ledger does not track
// yet, and returns how many were added.
func (s *Sweeper) Sync(ctx context.Context, address string) (int, error) {
	upstream, err := s.chain.ListUnspent(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("list unspent for %s: %w", address, err)
	}
	n := 0
	for _, u := range upstream {
		inserted, err := s.discover(ctx, address, u, SourceChainFetch)
		if err != nil {
			return n, err
		}
		if inserted {
			n++
		}
	}
	s.logger.Debug().Str("address", address).Int("upstream", len(upstream)).Int("added", n).Msg("sync complete")
	return n, nil
}

func (s *Sweeper) discover(ctx context.Context, address string, u *network.UTXO, src Source) (bool, error) {
	if u.SpentInMempool {
		return false, nil
	}
	script, err := s.lockingScript(address, u)
	if err != nil {
		return false, err
	}
	owner := u.Address
	if owner == "" {
		owner = address
	}
	return s.ledger.Discover(ctx, &UnspentOutput{
		Outpoint:      Outpoint{TxID: u.TxID, Vout: u.Vout},
		Satoshis:      u.Amount,
		LockingScript: script,
		OwnerAddress:  owner,
		Source:        src,
	})
}

func (s *Sweeper) lockingScript(address string, u *network.UTXO) ([]byte, error) {
	if u.ScriptPubKey != "" {
		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: script of %s:%d: %w", ErrInvalidOutput, u.TxID, u.Vout, err)
		}
		return script, nil
	}
	if s.scriptFor == nil {
		return nil, nil
	}
	return s.scriptFor(address)
}

// Sweep reconciles each address against the chain:
//   - reservations older than the grace period are released when the output
//     is still unspent upstream and marked spent by an unknown transaction
//     otherwise;
//   - spent outputs are confirmed once their spending transaction confirms,
//     or once the grace period has passed for unknown spenders;
//   - upstream outputs the ledger lacks are inserted.
//
// Addresses are swept concurrently. The first failing address cancels the
// rest and its error is returned together with the partial report.
func (s *Sweeper) Sweep(ctx context.Context, addresses ...string) (SweepReport, error) {
	var (
		mu    sync.Mutex
		total SweepReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, addr := range addresses {
		g.Go(func() error {
			r, err := s.sweepAddress(gctx, addr)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return total, err
}

func (s *Sweeper) sweepAddress(ctx context.Context, address string) (SweepReport, error) {
	var r SweepReport

	upstream, err := s.chain.ListUnspent(ctx, address)
	if err != nil {
		return r, fmt.Errorf("list unspent for %s: %w", address, err)
	}
	onChain := make(map[Outpoint]struct{}, len(upstream))
	for _, u := range upstream {
		if u.SpentInMempool {
			continue
		}
		onChain[normalize(Outpoint{TxID: u.TxID, Vout: u.Vout})] = struct{}{}
	}

	local, err := s.ledger.List(ctx, Filter{
		Address:  address,
		Statuses: []Status{StatusReserved, StatusSpent},
	})
	if err != nil {
		return r, err
	}

	cutoff := s.ledger.now().Add(-s.grace)
	for _, out := range local {
		switch out.Status {
		case StatusReserved:
			if out.ReservedAt == nil || out.ReservedAt.After(cutoff) {
				continue
			}
			if _, ok := onChain[out.Outpoint]; ok {
				err = s.ledger.Release(ctx, out.Outpoint)
				if err == nil {
					r.Released++
					prometheusSweepReleased.Inc()
				}
			} else {
				err = s.ledger.MarkSpent(ctx, out.Outpoint, UnknownSpendingTxID)
				if err == nil {
					r.MarkedSpent++
					prometheusSweepSpent.Inc()
				}
			}
		case StatusSpent:
			var confirmed bool
			confirmed, err = s.spendConfirmed(ctx, out, cutoff)
			if err == nil && confirmed {
				err = s.ledger.MarkConfirmed(ctx, out.Outpoint)
				if err == nil {
					r.Confirmed++
				}
			}
		}
		// A concurrent publish may have moved the output since List; that
		// is not a sweep failure.
		if err != nil && !errors.Is(err, ErrInvalidStateTransition) && !errors.Is(err, ErrNotFound) {
			return r, err
		}
	}

	for _, u := range upstream {
		inserted, err := s.discover(ctx, address, u, SourceSyncReconciliation)
		if err != nil {
			return r, err
		}
		if inserted {
			r.Discovered++
		}
	}

	s.logger.Debug().Str("address", address).
		Int("released", r.Released).
		Int("marked_spent", r.MarkedSpent).
		Int("confirmed", r.Confirmed).
		Int("discovered", r.Discovered).
		Msg("sweep complete")
	return r, nil
}

// spendConfirmed reports whether the spend of out can be treated as final.
func (s *Sweeper) spendConfirmed(ctx context.Context, out *UnspentOutput, cutoff time.Time) (bool, error) {
	if out.SpendingTxID == UnknownSpendingTxID || out.SpendingTxID == "" {
		return out.SpentAt != nil && !out.SpentAt.After(cutoff), nil
	}
	if s.status == nil {
		return false, nil
	}
	st, err := s.status.GetTxStatus(ctx, out.SpendingTxID)
	if err != nil {
		if errors.Is(err, network.ErrTxNotFound) || errors.Is(err, network.ErrTransport) {
			s.logger.Debug().Err(err).Str("txid", out.SpendingTxID).Msg("spend status unavailable")
			return false, nil
		}
		return false, err
	}
	return st.Confirmed, nil
}

// Run sweeps addresses every interval until ctx is done. Sweep errors are
// logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, addresses ...string) error {
	if interval <= 0 {
		return errors.New("ledger: sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r, err := s.Sweep(ctx, addresses...)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("sweep failed")
				continue
			}
			s.logger.Info().Interface("report", r).Msg("sweep finished")
		}
	}
}
