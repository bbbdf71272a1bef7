package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the authoritative set of tracked outputs. It exposes only
// compare-and-set style operations over a Store and records an audit entry
// for every mutation attempt.
type Ledger struct {
	store   Store
	auditor Auditor
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAuditor sets the audit collaborator. The default logs entries.
func WithAuditor(a Auditor) Option {
	return func(l *Ledger) { l.auditor = a }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilParam)
	}
	initPrometheusMetrics()

	l := &Ledger{
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "ledger").Logger()
	if l.auditor == nil {
		l.auditor = NewLogAuditor(l.logger)
	}
	return l, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error { return l.store.Close() }

func normalize(key Outpoint) Outpoint {
	key.TxID = strings.ToLower(key.TxID)
	return key
}

// errorClass maps an error to a low-cardinality metric label.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNoSuitableOutput):
		return "no_suitable_output"
	case errors.Is(err, ErrInvalidOutput), errors.Is(err, ErrNilParam):
		return "invalid_output"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "store"
	}
}

// audit records one mutation attempt. Auditor failures are logged and
// counted, never returned.
func (l *Ledger) audit(ctx context.Context, op string, key Outpoint, before, after *UnspentOutput, err error, detail string) {
	prometheusLedgerOps.WithLabelValues(op).Inc()
	entry := AuditEntry{
		ID:        uuid.New(),
		Time:      l.now(),
		Actor:     ActorFromContext(ctx),
		Operation: op,
		Key:       key,
		Before:    statusPtr(before),
		Detail:    detail,
	}
	if err != nil {
		prometheusLedgerErrors.WithLabelValues(op, errorClass(err)).Inc()
		entry.Err = err.Error()
	} else {
		entry.After = statusPtr(after)
	}

	// The primary operation already happened; auditing must not be cut short
	// by the caller's cancellation.
	if aerr := l.auditor.Record(context.WithoutCancel(ctx), entry); aerr != nil {
		prometheusLedgerAuditFails.Inc()
		l.logger.Warn().Err(aerr).Str("op", op).Stringer("outpoint", key).Msg("audit record failed")
	}
}

// prepareNew validates out and returns a stored copy in the Available state.
func (l *Ledger) prepareNew(out *UnspentOutput) (*UnspentOutput, error) {
	if err := out.validate(); err != nil {
		return nil, err
	}
	cp := out.Clone()
	cp.Outpoint = normalize(cp.Outpoint)
	cp.Status = StatusAvailable
	cp.ReservedAt = nil
	cp.SpentAt = nil
	cp.SpendingTxID = ""
	if cp.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = l.now()
	}
	return cp, nil
}

// Discover inserts an output found on chain. It is a no-op, reporting false,
// if the outpoint is already tracked.
func (l *Ledger) Discover(ctx context.Context, out *UnspentOutput) (bool, error) {
	cp, err := l.prepareNew(out)
	if err != nil {
		return false, err
	}
	inserted, err := l.store.Insert(ctx, cp)
	if err != nil || inserted {
		l.audit(ctx, OpDiscover, cp.Outpoint, nil, cp, err, cp.Source.String())
	}
	return inserted, err
}

// AddOutput inserts a new Available output, failing with ErrAlreadyExists if
// the outpoint is already tracked. Used for change outputs.
func (l *Ledger) AddOutput(ctx context.Context, out *UnspentOutput) error {
	cp, err := l.prepareNew(out)
	if err != nil {
		return err
	}
	err = l.store.Add(ctx, cp)
	l.audit(ctx, OpAdd, cp.Outpoint, nil, cp, err, cp.Source.String())
	return err
}

// Get returns a copy of the output at key.
func (l *Ledger) Get(ctx context.Context, key Outpoint) (*UnspentOutput, error) {
	return l.store.Get(ctx, normalize(key))
}

// ListAvailable returns a snapshot of the Available outputs of address worth
// at least minAmount, sorted by order. A positive limit caps the result.
func (l *Ledger) ListAvailable(ctx context.Context, address string, minAmount uint64, order Order, limit int) ([]*UnspentOutput, error) {
	return l.store.List(ctx, Filter{
		Address:   address,
		Statuses:  []Status{StatusAvailable},
		MinAmount: minAmount,
		Order:     order,
		Limit:     limit,
	})
}

// GetAvailableUTXOs is the collaborator query: Available outputs of address,
// smallest first.
func (l *Ledger) GetAvailableUTXOs(ctx context.Context, address string, minAmount uint64, limit int) ([]*UnspentOutput, error) {
	return l.ListAvailable(ctx, address, minAmount, Ascending, limit)
}

// List returns outputs matching f.
func (l *Ledger) List(ctx context.Context, f Filter) ([]*UnspentOutput, error) {
	return l.store.List(ctx, f)
}

func (l *Ledger) reserveMutation() Mutation {
	at := l.now()
	return func(u *UnspentOutput) { u.ReservedAt = &at }
}

// Reserve atomically reserves the smallest Available output of address worth
// at least minAmount. Candidates taken by a concurrent caller are skipped;
// when none remain it fails with ErrNoSuitableOutput.
func (l *Ledger) Reserve(ctx context.Context, address string, minAmount uint64) (*UnspentOutput, error) {
	candidates, err := l.ListAvailable(ctx, address, minAmount, Ascending, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		before, after, err := l.store.Transition(ctx, c.Outpoint, []Status{StatusAvailable}, StatusReserved, l.reserveMutation())
		if err == nil {
			l.audit(ctx, OpReserve, c.Outpoint, before, after, nil, "")
			return after, nil
		}
		if errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrNotFound) {
			l.logger.Debug().Stringer("outpoint", c.Outpoint).Msg("reservation candidate taken, trying next")
			continue
		}
		l.audit(ctx, OpReserve, c.Outpoint, before, nil, err, "")
		return nil, err
	}
	err = fmt.Errorf("%w: address %s, min %d sat", ErrNoSuitableOutput, address, minAmount)
	l.audit(ctx, OpReserve, Outpoint{}, nil, nil, err, address)
	return nil, err
}

// ReserveOutput reserves one specific output. It fails with
// ErrAlreadyReserved when the output is not Available.
func (l *Ledger) ReserveOutput(ctx context.Context, key Outpoint) (*UnspentOutput, error) {
	key = normalize(key)
	before, after, err := l.store.Transition(ctx, key, []Status{StatusAvailable}, StatusReserved, l.reserveMutation())
	if errors.Is(err, ErrInvalidStateTransition) {
		err = fmt.Errorf("%w: %s is %s", ErrAlreadyReserved, key, before.Status)
	}
	l.audit(ctx, OpReserve, key, before, after, err, "")
	if err != nil {
		return nil, err
	}
	return after, nil
}

// Release returns a Reserved output to Available.
func (l *Ledger) Release(ctx context.Context, key Outpoint) error {
	key = normalize(key)
	before, after, err := l.store.Transition(ctx, key, []Status{StatusReserved}, StatusAvailable, func(u *UnspentOutput) {
		u.ReservedAt = nil
	})
	l.audit(ctx, OpRelease, key, before, after, err, "")
	return err
}

// Restore returns a Reserved or Spent output to Available. It is used when a
// broadcast believed successful turns out to have failed.
func (l *Ledger) Restore(ctx context.Context, key Outpoint) error {
	key = normalize(key)
	before, after, err := l.store.Transition(ctx, key, []Status{StatusReserved, StatusSpent}, StatusAvailable, func(u *UnspentOutput) {
		u.ReservedAt = nil
		u.SpentAt = nil
		u.SpendingTxID = ""
	})
	l.audit(ctx, OpRestore, key, before, after, err, "")
	return err
}

// MarkSpent records that spendingTxID consumed the output. Repeating the call
// with the same spendingTxID is a no-op.
func (l *Ledger) MarkSpent(ctx context.Context, key Outpoint, spendingTxID string) error {
	key = normalize(key)
	if spendingTxID == "" {
		return fmt.Errorf("%w: spending txid", ErrNilParam)
	}
	before, after, err := l.store.Transition(ctx, key, []Status{StatusReserved, StatusAvailable}, StatusSpent,
		spendMutation(spendingTxID, l.now()))
	if err != nil && errors.Is(err, ErrInvalidStateTransition) &&
		before != nil && before.Status == StatusSpent && before.SpendingTxID == spendingTxID {
		l.audit(ctx, OpMarkSpent, key, before, before, nil, "already spent by "+spendingTxID)
		return nil
	}
	l.audit(ctx, OpMarkSpent, key, before, after, err, spendingTxID)
	return err
}

// MarkConfirmed moves a Spent output to ConfirmedSpent. Repeating the call
// is a no-op.
func (l *Ledger) MarkConfirmed(ctx context.Context, key Outpoint) error {
	key = normalize(key)
	before, after, err := l.store.Transition(ctx, key, []Status{StatusSpent}, StatusConfirmedSpent, nil)
	if err != nil && errors.Is(err, ErrInvalidStateTransition) && before != nil && before.Status == StatusConfirmedSpent {
		l.audit(ctx, OpMarkConfirmed, key, before, before, nil, "already confirmed")
		return nil
	}
	l.audit(ctx, OpMarkConfirmed, key, before, after, err, "")
	return err
}

// CommitSpend marks every input Spent by spendingTxID and adds the new
// outputs (change, split outputs) in one all-or-nothing store transaction.
func (l *Ledger) CommitSpend(ctx context.Context, inputs []Outpoint, spendingTxID string, added []*UnspentOutput) error {
	if spendingTxID == "" {
		return fmt.Errorf("%w: spending txid", ErrNilParam)
	}
	keys := make([]Outpoint, len(inputs))
	for i, k := range inputs {
		keys[i] = normalize(k)
	}
	prepared := make([]*UnspentOutput, len(added))
	for i, out := range added {
		cp, err := l.prepareNew(out)
		if err != nil {
			return err
		}
		prepared[i] = cp
	}

	err := l.store.Commit(ctx, keys, spendingTxID, l.now(), prepared)

	reserved, spent := StatusReserved, StatusSpent
	for _, k := range keys {
		l.audit(ctx, OpCommitSpend, k, &UnspentOutput{Status: reserved}, &UnspentOutput{Status: spent}, err, spendingTxID)
	}
	for _, out := range prepared {
		l.audit(ctx, OpAdd, out.Outpoint, nil, out, err, out.Source.String())
	}
	return err
}

// Balance sums the Available and Reserved outputs of address.
func (l *Ledger) Balance(ctx context.Context, address string) (Balance, error) {
	outs, err := l.store.List(ctx, Filter{
		Address:  address,
		Statuses: []Status{StatusAvailable, StatusReserved},
	})
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	for _, u := range outs {
		if u.Status == StatusAvailable {
			b.Available += u.Satoshis
		} else {
			b.Reserved += u.Satoshis
		}
	}
	return b, nil
}

// Stats reports balances and a per-status breakdown for address.
func (l *Ledger) Stats(ctx context.Context, address string) (*WalletStats, error) {
	outs, err := l.store.List(ctx, Filter{Address: address})
	if err != nil {
		return nil, err
	}
	stats := &WalletStats{
		Address:         address,
		StatusBreakdown: make(map[Status]StatusCount, len(AllStatuses)),
	}
	for _, st := range AllStatuses {
		stats.StatusBreakdown[st] = StatusCount{}
	}
	for _, u := range outs {
		c := stats.StatusBreakdown[u.Status]
		c.Count++
		c.Satoshis += u.Satoshis
		stats.StatusBreakdown[u.Status] = c
	}
	stats.AvailableBalance = stats.StatusBreakdown[StatusAvailable].Satoshis
	stats.TotalBalance = stats.AvailableBalance + stats.StatusBreakdown[StatusReserved].Satoshis
	return stats, nil
}

// CleanupConfirmedSpent deletes ConfirmedSpent outputs spent longer than
// olderThan ago and returns how many were removed.
func (l *Ledger) CleanupConfirmedSpent(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := l.store.DeleteConfirmedSpent(ctx, l.now().Add(-olderThan))
	prometheusLedgerCleaned.Add(float64(n))
	l.audit(ctx, OpCleanup, Outpoint{}, nil, nil, err, fmt.Sprintf("removed %d", n))
	return n, err
}
