package ledger

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"
)

// Order selects the satoshi ordering of a listing.
type Order int

const (
	// Ascending lists the smallest outputs first.
	Ascending Order = iota
	// Descending lists the largest outputs first.
	Descending
)

// Filter restricts a listing. Zero values mean "no restriction".
type Filter struct {
	Address   string
	Statuses  []Status
	MinAmount uint64
	Order     Order
	Limit     int
}

func (f Filter) match(u *UnspentOutput) bool {
	if f.Address != "" && u.OwnerAddress != f.Address {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, u.Status) {
		return false
	}
	return u.Satoshis >= f.MinAmount
}

// Mutation is applied to a record inside a compare-and-set after the status
// precondition held. It must not change the outpoint.
type Mutation func(u *UnspentOutput)

// Store is the persistence layer behind a Ledger. Implementations guarantee
// that each method is atomic with respect to every other method.
type Store interface {
	// Insert stores out unless its outpoint already exists. It reports
	// whether the output was inserted.
	Insert(ctx context.Context, out *UnspentOutput) (bool, error)

	// Add stores out, failing with ErrAlreadyExists if the outpoint exists.
	Add(ctx context.Context, out *UnspentOutput) error

	// Get returns a copy of the output stored under key.
	Get(ctx context.Context, key Outpoint) (*UnspentOutput, error)

	// List returns copies of all outputs matching f, sorted by f.Order.
	List(ctx context.Context, f Filter) ([]*UnspentOutput, error)

	// Transition moves key to status to, succeeding only if its current
	// status is one of from. fn, when non-nil, updates the remaining fields.
	// It returns the record as it was before and after the update.
	Transition(ctx context.Context, key Outpoint, from []Status, to Status, fn Mutation) (before, after *UnspentOutput, err error)

	// Commit marks every spent key as StatusSpent with spendingTxID and adds
	// every output in added, all in one transaction. Spent keys must be
	// Reserved or Available; added keys must not exist.
	Commit(ctx context.Context, spent []Outpoint, spendingTxID string, at time.Time, added []*UnspentOutput) error

	// DeleteConfirmedSpent removes ConfirmedSpent outputs spent before the
	// given time and returns how many were removed.
	DeleteConfirmedSpent(ctx context.Context, before time.Time) (int, error)

	// Close releases the underlying database.
	Close() error
}

// sortOutputs orders outputs by satoshis, breaking ties by outpoint so
// listings are deterministic.
func sortOutputs(outs []*UnspentOutput, order Order) {
	sort.SliceStable(outs, func(i, j int) bool {
		a, b := outs[i], outs[j]
		if a.Satoshis != b.Satoshis {
			if order == Descending {
				return a.Satoshis > b.Satoshis
			}
			return a.Satoshis < b.Satoshis
		}
		if c := strings.Compare(a.TxID, b.TxID); c != 0 {
			return c < 0
		}
		return a.Vout < b.Vout
	})
}

// applyLimit truncates outs to limit when limit is positive.
func applyLimit(outs []*UnspentOutput, limit int) []*UnspentOutput {
	if limit > 0 && len(outs) > limit {
		return outs[:limit]
	}
	return outs
}

// spendMutation records a spend on a record.
func spendMutation(spendingTxID string, at time.Time) Mutation {
	return func(u *UnspentOutput) {
		t := at
		u.SpentAt = &t
		u.SpendingTxID = spendingTxID
	}
}
