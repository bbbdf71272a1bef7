// Package selector chooses which tracked outputs fund a transaction.
//
// Selection is pure: it reads a candidate snapshot and never touches the
// ledger. Reserving the chosen outputs is the caller's job.
package selector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bitfsorg/libledger-go/ledger"
)

// ErrInsufficientFunds indicates no candidate set covers the target plus fee.
var ErrInsufficientFunds = errors.New("selector: insufficient funds")

// Policy orders candidates and decides whether aggregation is allowed.
type Policy int

const (
	// LargestFirst accumulates the largest outputs until the target and the
	// fee for the inputs taken so far are covered. It minimizes input count.
	LargestFirst Policy = iota
	// SmallestFirst picks the single smallest output that covers the target
	// plus a one-input fee. It never aggregates.
	SmallestFirst
)

func (p Policy) String() string {
	switch p {
	case LargestFirst:
		return "largest-first"
	case SmallestFirst:
		return "smallest-first"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name back to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "largest-first", "largest":
		return LargestFirst, nil
	case "smallest-first", "smallest":
		return SmallestFirst, nil
	}
	return 0, fmt.Errorf("selector: unknown policy %q", s)
}

// Request describes what the selection must fund.
type Request struct {
	// Target is the value of the non-change outputs; zero for data-only
	// transactions, which still need one input.
	Target uint64
	// Fee returns the fee of a transaction with the given input count. A nil
	// Fee means fees are ignored.
	Fee func(inputs int) uint64
}

func (r Request) need(inputs int) uint64 {
	if r.Fee == nil {
		return r.Target
	}
	return r.Target + r.Fee(inputs)
}

// Select returns the outputs funding req under policy. Candidates that are
// not Available are ignored; the input slice is not modified.
func Select(candidates []*ledger.UnspentOutput, req Request, policy Policy) ([]*ledger.UnspentOutput, error) {
	pool := make([]*ledger.UnspentOutput, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Status == ledger.StatusAvailable {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no available outputs", ErrInsufficientFunds)
	}

	switch policy {
	case LargestFirst:
		return largestFirst(pool, req)
	case SmallestFirst:
		return smallestFirst(pool, req)
	default:
		return nil, fmt.Errorf("selector: unknown policy %d", int(policy))
	}
}

// less orders by satoshis, then txid and vout, so results are deterministic.
func less(a, b *ledger.UnspentOutput) bool {
	if a.Satoshis != b.Satoshis {
		return a.Satoshis < b.Satoshis
	}
	if a.TxID != b.TxID {
		return a.TxID < b.TxID
	}
	return a.Vout < b.Vout
}

func largestFirst(pool []*ledger.UnspentOutput, req Request) ([]*ledger.UnspentOutput, error) {
	sort.SliceStable(pool, func(i, j int) bool { return less(pool[j], pool[i]) })

	var sum uint64
	for i, c := range pool {
		sum += c.Satoshis
		if sum >= req.need(i+1) {
			return pool[:i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: %d outputs hold %d sat, need %d",
		ErrInsufficientFunds, len(pool), sum, req.need(len(pool)))
}

func smallestFirst(pool []*ledger.UnspentOutput, req Request) ([]*ledger.UnspentOutput, error) {
	sort.SliceStable(pool, func(i, j int) bool { return less(pool[i], pool[j]) })

	need := req.need(1)
	for _, c := range pool {
		if c.Satoshis >= need {
			return []*ledger.UnspentOutput{c}, nil
		}
	}
	return nil, fmt.Errorf("%w: largest output holds %d sat, need %d in one input",
		ErrInsufficientFunds, pool[len(pool)-1].Satoshis, need)
}
