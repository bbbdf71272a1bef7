package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitfsorg/libledger-go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeChain serves a mutable upstream unspent set per address.
type fakeChain struct {
	mu        sync.Mutex
	unspent   map[string][]*network.UTXO
	confirmed map[string]bool
	listErr   error
}

func newFakeChain() *fakeChain {
	return &fakeChain{unspent: map[string][]*network.UTXO{}, confirmed: map[string]bool{}}
}

func (c *fakeChain) set(address string, utxos ...*network.UTXO) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unspent[address] = utxos
}

func (c *fakeChain) ListUnspent(_ context.Context, address string) ([]*network.UTXO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]*network.UTXO, len(c.unspent[address]))
	for i, u := range c.unspent[address] {
		cp := *u
		out[i] = &cp
	}
	return out, nil
}

func (c *fakeChain) GetTxStatus(_ context.Context, txid string) (*network.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed[txid] {
		return &network.TxStatus{Confirmed: true, Confirmations: 1}, nil
	}
	return nil, network.ErrTxNotFound
}

func upstream(n int, sats uint64) *network.UTXO {
	out := testOutput(n, sats)
	return &network.UTXO{
		TxID:         out.TxID,
		Vout:         out.Vout,
		Amount:       sats,
		ScriptPubKey: "76a914" + "00112233445566778899aabbccddeeff00112233" + "88ac",
		Address:      testAddr,
	}
}

func newTestSweeper(t *testing.T, s Store, chain *fakeChain, opts ...SweeperOption) (*Sweeper, *Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	l, _ := newTestLedger(t, s, WithClock(clock.Now))
	sw, err := NewSweeper(l, chain, append([]SweeperOption{WithGrace(10 * time.Minute), WithStatusProvider(chain)}, opts...)...)
	require.NoError(t, err)
	return sw, l, clock
}

func TestNewSweeperRequiresCollaborators(t *testing.T) {
	_, err := NewSweeper(nil, newFakeChain())
	assert.ErrorIs(t, err, ErrNilParam)

	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()
	l, err := New(s)
	require.NoError(t, err)
	_, err = NewSweeper(l, nil)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestSyncInsertsMissingOutputs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chain := newFakeChain()
		spentInMempool := upstream(3, 300)
		spentInMempool.SpentInMempool = true
		noScript := upstream(4, 400)
		noScript.ScriptPubKey = ""
		chain.set(testAddr, upstream(1, 100), upstream(2, 200), spentInMempool, noScript)

		resolved := []byte{0x76, 0xa9}
		sw, l, _ := newTestSweeper(t, s, chain, WithScriptResolver(func(address string) ([]byte, error) {
			assert.Equal(t, testAddr, address)
			return resolved, nil
		}))

		n, err := sw.Sync(ctx, testAddr)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = sw.Sync(ctx, testAddr)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "sync is idempotent")

		got, err := l.Get(ctx, Outpoint{TxID: noScript.TxID, Vout: noScript.Vout})
		require.NoError(t, err)
		assert.Equal(t, resolved, got.LockingScript)
		assert.Equal(t, SourceChainFetch, got.Source)

		first, err := l.Get(ctx, Outpoint{TxID: upstream(1, 0).TxID, Vout: upstream(1, 0).Vout})
		require.NoError(t, err)
		assert.Equal(t, "76a91400112233445566778899aabbccddeeff0011223388ac", first.LockingScriptHex())

		_, err = l.Get(ctx, Outpoint{TxID: spentInMempool.TxID, Vout: spentInMempool.Vout})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSweepReconcilesStaleState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chain := newFakeChain()
		sw, l, clock := newTestSweeper(t, s, chain)

		stillUnspent := seed(t, l, 100)[0]
		gone := testOutput(2, 200).Outpoint
		_, err := l.Discover(ctx, testOutput(2, 200))
		require.NoError(t, err)
		knownSpend := testOutput(4, 400).Outpoint
		_, err = l.Discover(ctx, testOutput(4, 400))
		require.NoError(t, err)

		_, err = l.ReserveOutput(ctx, stillUnspent)
		require.NoError(t, err)
		_, err = l.ReserveOutput(ctx, gone)
		require.NoError(t, err)
		require.NoError(t, l.MarkSpent(ctx, knownSpend, testTxID(4000)))
		chain.confirmed[testTxID(4000)] = true

		clock.Advance(11 * time.Minute)

		// A reservation made just now must survive the sweep.
		_, err = l.Discover(ctx, testOutput(5, 500))
		require.NoError(t, err)
		fresh := testOutput(5, 500).Outpoint
		_, err = l.ReserveOutput(ctx, fresh)
		require.NoError(t, err)

		// Upstream still holds stillUnspent and fresh, plus one output the
		// ledger never saw.
		chain.set(testAddr, upstream(1, 100), upstream(5, 500), upstream(6, 600))

		report, err := sw.Sweep(ctx, testAddr)
		require.NoError(t, err)
		assert.Equal(t, SweepReport{Discovered: 1, Released: 1, MarkedSpent: 1, Confirmed: 1}, report)

		assertStatus := func(key Outpoint, want Status) {
			t.Helper()
			got, err := l.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, want, got.Status, key.String())
		}
		assertStatus(stillUnspent, StatusAvailable)
		assertStatus(gone, StatusSpent)
		assertStatus(knownSpend, StatusConfirmedSpent)
		assertStatus(fresh, StatusReserved)

		goneOut, err := l.Get(ctx, gone)
		require.NoError(t, err)
		assert.Equal(t, UnknownSpendingTxID, goneOut.SpendingTxID)

		discovered, err := l.Get(ctx, Outpoint{TxID: upstream(6, 0).TxID, Vout: upstream(6, 0).Vout})
		require.NoError(t, err)
		assert.Equal(t, SourceSyncReconciliation, discovered.Source)

		// The unknown spend is confirmed once it has aged past the grace period.
		clock.Advance(11 * time.Minute)
		report, err = sw.Sweep(ctx, testAddr)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Confirmed)
		assertStatus(gone, StatusConfirmedSpent)
	})
}

func TestSweepUnconfirmedSpendStays(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chain := newFakeChain()
		sw, l, clock := newTestSweeper(t, s, chain)

		key := seed(t, l, 100)[0]
		require.NoError(t, l.MarkSpent(ctx, key, testTxID(123)))
		clock.Advance(time.Hour)

		report, err := sw.Sweep(ctx, testAddr)
		require.NoError(t, err)
		assert.Zero(t, report.Confirmed)

		got, err := l.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, StatusSpent, got.Status)
	})
}

func TestSweepPropagatesChainErrors(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	chain := newFakeChain()
	chain.listErr = network.ErrTransport
	sw, _, _ := newTestSweeper(t, s, chain)

	_, err = sw.Sweep(context.Background(), testAddr, otherAddr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, network.ErrTransport))

	_, err = sw.Sync(context.Background(), testAddr)
	assert.ErrorIs(t, err, network.ErrTransport)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	chain := newFakeChain()
	sw, l, _ := newTestSweeper(t, s, chain)
	chain.set(testAddr, upstream(1, 100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx, 5*time.Millisecond, testAddr) }()

	require.Eventually(t, func() bool {
		_, err := l.Get(context.Background(), Outpoint{TxID: upstream(1, 0).TxID, Vout: upstream(1, 0).Vout})
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Error(t, sw.Run(context.Background(), 0, testAddr))
}
