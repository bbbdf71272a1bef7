package tx

import (
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildP2PKHScript(t *testing.T) {
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)

	scriptBytes, err := BuildP2PKHScript(key.PubKey(), true)
	require.NoError(t, err)
	// OP_DUP(1) + OP_HASH160(1) + OP_DATA_20(1) + hash(20) + OP_EQUALVERIFY(1) + OP_CHECKSIG(1)
	assert.Len(t, scriptBytes, P2PKHLockingScriptLen)
	assert.True(t, script.NewFromBytes(scriptBytes).IsP2PKH())

	_, err = BuildP2PKHScript(nil, true)
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestLockingScriptMatchesPublicKeyScript(t *testing.T) {
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)

	for _, mainnet := range []bool{true, false} {
		addr, err := script.NewAddressFromPublicKey(key.PubKey(), mainnet)
		require.NoError(t, err)

		fromAddr, err := LockingScript(addr.AddressString)
		require.NoError(t, err)
		fromKey, err := BuildP2PKHScript(key.PubKey(), mainnet)
		require.NoError(t, err)
		assert.Equal(t, fromKey, fromAddr)
	}

	_, err = LockingScript("")
	assert.ErrorIs(t, err, ErrScriptBuild)
}

func TestSignInputsCountMismatch(t *testing.T) {
	w := newTestWallet(t)
	sdkTx := transaction.NewTransaction()
	require.NoError(t, addInputs(sdkTx, []*UTXO{w.utxo(1, 10)}))

	err := signInputs(sdkTx, []*UTXO{w.utxo(1, 10), w.utxo(2, 10)}, w.key)
	assert.ErrorIs(t, err, ErrSigningFailed)

	err = signInputs(sdkTx, []*UTXO{w.utxo(1, 10)}, nil)
	assert.ErrorIs(t, err, ErrNilParam)
}
