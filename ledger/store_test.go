package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddr  = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	otherAddr = "1cMh228HTCiwS8ZsaakH8A8wze1JR5ZsP"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeBackends() []storeFactory {
	return []storeFactory{
		{"bolt", func(t *testing.T) Store {
			t.Helper()
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite-memory", func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLStore("")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range storeBackends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func testTxID(n int) string {
	return fmt.Sprintf("%064x", n)
}

func testOutput(n int, sats uint64) *UnspentOutput {
	return &UnspentOutput{
		Outpoint:      Outpoint{TxID: testTxID(n), Vout: uint32(n % 3)},
		Satoshis:      sats,
		LockingScript: []byte{0x76, 0xa9, 0x14, byte(n)},
		OwnerAddress:  testAddr,
		Status:        StatusAvailable,
		Source:        SourceChainFetch,
		DiscoveredAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		out := testOutput(1, 1000)

		inserted, err := s.Insert(ctx, out)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.Insert(ctx, out)
		require.NoError(t, err)
		assert.False(t, inserted, "second insert must be a no-op")

		got, err := s.Get(ctx, out.Outpoint)
		require.NoError(t, err)
		assert.Equal(t, out.Outpoint, got.Outpoint)
		assert.Equal(t, uint64(1000), got.Satoshis)
		assert.Equal(t, out.LockingScript, got.LockingScript)
		assert.Equal(t, testAddr, got.OwnerAddress)
		assert.Equal(t, StatusAvailable, got.Status)
		assert.Equal(t, SourceChainFetch, got.Source)
		assert.True(t, out.DiscoveredAt.Equal(got.DiscoveredAt))
		assert.Nil(t, got.ReservedAt)
		assert.Nil(t, got.SpentAt)

		_, err = s.Get(ctx, Outpoint{TxID: testTxID(99), Vout: 0})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreAddDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		out := testOutput(1, 1000)
		require.NoError(t, s.Add(ctx, out))
		assert.ErrorIs(t, s.Add(ctx, out), ErrAlreadyExists)
	})
}

func TestStoreGetReturnsCopy(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		out := testOutput(1, 1000)
		require.NoError(t, s.Add(ctx, out))

		got, err := s.Get(ctx, out.Outpoint)
		require.NoError(t, err)
		got.Satoshis = 1
		got.LockingScript[0] = 0x00

		again, err := s.Get(ctx, out.Outpoint)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), again.Satoshis)
		assert.Equal(t, byte(0x76), again.LockingScript[0])
	})
}

func TestStoreListFilterAndOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, sats := range []uint64{500, 100, 900, 300} {
			require.NoError(t, s.Add(ctx, testOutput(i+1, sats)))
		}
		foreign := testOutput(10, 5000)
		foreign.OwnerAddress = otherAddr
		require.NoError(t, s.Add(ctx, foreign))

		_, _, err := s.Transition(ctx, testOutput(3, 0).Outpoint, []Status{StatusAvailable}, StatusReserved, nil)
		require.NoError(t, err)

		asc, err := s.List(ctx, Filter{Address: testAddr, Statuses: []Status{StatusAvailable}})
		require.NoError(t, err)
		require.Len(t, asc, 3)
		assert.Equal(t, []uint64{100, 300, 500}, satoshis(asc))

		desc, err := s.List(ctx, Filter{Address: testAddr, Statuses: []Status{StatusAvailable}, Order: Descending})
		require.NoError(t, err)
		assert.Equal(t, []uint64{500, 300, 100}, satoshis(desc))

		minAmt, err := s.List(ctx, Filter{Address: testAddr, MinAmount: 300, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []uint64{300, 500}, satoshis(minAmt))

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		other, err := s.List(ctx, Filter{Address: otherAddr})
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, uint64(5000), other[0].Satoshis)
	})
}

func TestStoreListSeveralStatuses(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, sats := range []uint64{100, 200, 300} {
			require.NoError(t, s.Add(ctx, testOutput(i+1, sats)))
		}
		_, _, err := s.Transition(ctx, testOutput(2, 0).Outpoint, []Status{StatusAvailable}, StatusReserved, nil)
		require.NoError(t, err)
		_, _, err = s.Transition(ctx, testOutput(3, 0).Outpoint, []Status{StatusAvailable}, StatusSpent, nil)
		require.NoError(t, err)

		live, err := s.List(ctx, Filter{Address: testAddr, Statuses: []Status{StatusAvailable, StatusReserved}})
		require.NoError(t, err)
		assert.Equal(t, []uint64{100, 200}, satoshis(live))

		spent, err := s.List(ctx, Filter{Statuses: []Status{StatusSpent}})
		require.NoError(t, err)
		assert.Equal(t, []uint64{300}, satoshis(spent))
	})
}

func TestStoreListTieBreak(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := testOutput(7, 100)
		b := testOutput(2, 100)
		require.NoError(t, s.Add(ctx, a))
		require.NoError(t, s.Add(ctx, b))

		got, err := s.List(ctx, Filter{Address: testAddr})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, b.Outpoint, got[0].Outpoint, "equal amounts order by txid")
	})
}

func TestStoreTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		out := testOutput(1, 1000)
		require.NoError(t, s.Add(ctx, out))

		at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		before, after, err := s.Transition(ctx, out.Outpoint, []Status{StatusAvailable}, StatusReserved,
			func(u *UnspentOutput) { u.ReservedAt = &at })
		require.NoError(t, err)
		assert.Equal(t, StatusAvailable, before.Status)
		assert.Equal(t, StatusReserved, after.Status)
		require.NotNil(t, after.ReservedAt)
		assert.True(t, at.Equal(*after.ReservedAt))

		// Compare-and-set fails once the precondition no longer holds.
		before, after, err = s.Transition(ctx, out.Outpoint, []Status{StatusAvailable}, StatusReserved, nil)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.Nil(t, after)
		require.NotNil(t, before)
		assert.Equal(t, StatusReserved, before.Status)

		_, _, err = s.Transition(ctx, Outpoint{TxID: testTxID(42)}, []Status{StatusAvailable}, StatusReserved, nil)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.Get(ctx, out.Outpoint)
		require.NoError(t, err)
		assert.Equal(t, StatusReserved, got.Status)
	})
}

func TestStoreCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in1, in2 := testOutput(1, 600), testOutput(2, 700)
		require.NoError(t, s.Add(ctx, in1))
		require.NoError(t, s.Add(ctx, in2))

		change := testOutput(3, 1250)
		change.Source = SourceChangeOutput
		at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.Commit(ctx, []Outpoint{in1.Outpoint, in2.Outpoint}, testTxID(3), at, []*UnspentOutput{change}))

		for _, k := range []Outpoint{in1.Outpoint, in2.Outpoint} {
			got, err := s.Get(ctx, k)
			require.NoError(t, err)
			assert.Equal(t, StatusSpent, got.Status)
			assert.Equal(t, testTxID(3), got.SpendingTxID)
			require.NotNil(t, got.SpentAt)
			assert.True(t, at.Equal(*got.SpentAt))
		}
		got, err := s.Get(ctx, change.Outpoint)
		require.NoError(t, err)
		assert.Equal(t, StatusAvailable, got.Status)
		assert.Equal(t, SourceChangeOutput, got.Source)
	})
}

func TestStoreCommitIsAllOrNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := testOutput(1, 600)
		existing := testOutput(2, 50)
		require.NoError(t, s.Add(ctx, in))
		require.NoError(t, s.Add(ctx, existing))

		// The added output collides with an existing one, so the input must
		// stay untouched.
		err := s.Commit(ctx, []Outpoint{in.Outpoint}, testTxID(9), time.Now(), []*UnspentOutput{existing})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.Get(ctx, in.Outpoint)
		require.NoError(t, err)
		assert.Equal(t, StatusAvailable, got.Status)
		assert.Empty(t, got.SpendingTxID)

		// An input that is already spent aborts the commit as well.
		require.NoError(t, s.Commit(ctx, []Outpoint{in.Outpoint}, testTxID(9), time.Now(), nil))
		fresh := testOutput(4, 10)
		err = s.Commit(ctx, []Outpoint{in.Outpoint}, testTxID(10), time.Now(), []*UnspentOutput{fresh})
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		_, err = s.Get(ctx, fresh.Outpoint)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDeleteConfirmedSpent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

		a, b, c := testOutput(1, 10), testOutput(2, 20), testOutput(3, 30)
		for _, o := range []*UnspentOutput{a, b, c} {
			require.NoError(t, s.Add(ctx, o))
		}
		require.NoError(t, s.Commit(ctx, []Outpoint{a.Outpoint}, testTxID(50), old, nil))
		require.NoError(t, s.Commit(ctx, []Outpoint{b.Outpoint}, testTxID(51), recent, nil))
		for _, k := range []Outpoint{a.Outpoint, b.Outpoint} {
			_, _, err := s.Transition(ctx, k, []Status{StatusSpent}, StatusConfirmedSpent, nil)
			require.NoError(t, err)
		}

		n, err := s.DeleteConfirmedSpent(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Get(ctx, a.Outpoint)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, b.Outpoint)
		assert.NoError(t, err)
		_, err = s.Get(ctx, c.Outpoint)
		assert.NoError(t, err)

		byAddr, err := s.List(ctx, Filter{Address: testAddr})
		require.NoError(t, err)
		assert.Len(t, byAddr, 2, "address index must drop deleted outputs")
	})
}

func TestStoreCanceledContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Insert(ctx, testOutput(1, 1))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), testOutput(1, 1000)))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), testOutput(1, 0).Outpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got.Satoshis)
}

func satoshis(outs []*UnspentOutput) []uint64 {
	res := make([]uint64, len(outs))
	for i, u := range outs {
		res[i] = u.Satoshis
	}
	return res
}
