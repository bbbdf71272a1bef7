package tx

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// UTXO is a funding input handed to the builder.
type UTXO struct {
	TxID         string `json:"txid"` // hex, display order
	Vout         uint32 `json:"vout"`
	Amount       uint64 `json:"amount"`        // satoshis
	ScriptPubKey []byte `json:"script_pubkey"` // locking script bytes
}

func (u *UTXO) hash() (*chainhash.Hash, error) {
	h, err := chainhash.NewHashFromHex(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: utxo txid %q: %w", ErrInvalidParams, u.TxID, err)
	}
	return h, nil
}

func sumInputs(inputs []*UTXO) uint64 {
	var total uint64
	for _, u := range inputs {
		total += u.Amount
	}
	return total
}
