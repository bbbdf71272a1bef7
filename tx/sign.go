package tx

import (
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"
)

// signInputs attaches source outputs and P2PKH unlockers to every input of
// sdkTx and signs them all with key. inputs[i] funds input i.
func signInputs(sdkTx *transaction.Transaction, inputs []*UTXO, key *ec.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("%w: signing key", ErrNilParam)
	}
	if len(inputs) != len(sdkTx.Inputs) {
		return fmt.Errorf("%w: have %d UTXOs but tx has %d inputs",
			ErrSigningFailed, len(inputs), len(sdkTx.Inputs))
	}

	unlocker, err := p2pkh.Unlock(key, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create unlocker: %w", ErrSigningFailed, err)
	}
	for i, utxo := range inputs {
		if len(utxo.ScriptPubKey) == 0 {
			return fmt.Errorf("%w: utxo[%d] has empty ScriptPubKey", ErrSigningFailed, i)
		}
		// The sighash commits to the spent output's script and value.
		sdkTx.Inputs[i].SetSourceTxOutput(&transaction.TransactionOutput{
			Satoshis:      utxo.Amount,
			LockingScript: script.NewFromBytes(utxo.ScriptPubKey),
		})
		sdkTx.Inputs[i].UnlockingScriptTemplate = unlocker
	}

	if err := sdkTx.Sign(); err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return nil
}

// BuildP2PKHScript creates a P2PKH locking script for the given public key.
func BuildP2PKHScript(pubKey *ec.PublicKey, mainnet bool) ([]byte, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("%w: public key", ErrNilParam)
	}
	addr, err := script.NewAddressFromPublicKey(pubKey, mainnet)
	if err != nil {
		return nil, fmt.Errorf("%w: address from pubkey: %w", ErrScriptBuild, err)
	}
	lockScript, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock script: %w", ErrScriptBuild, err)
	}
	return []byte(*lockScript), nil
}

// LockingScript returns the P2PKH locking script paying address. Mainnet and
// testnet addresses are both accepted.
func LockingScript(address string) ([]byte, error) {
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: address %q: %w", ErrScriptBuild, address, err)
	}
	lockScript, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: P2PKH lock script: %w", ErrScriptBuild, err)
	}
	return []byte(*lockScript), nil
}
