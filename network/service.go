package network

import "context"

// UnspentLister reads the upstream unspent outputs of an address.
type UnspentLister interface {
	// ListUnspent returns the unspent outputs of address. Outputs already
	// spent by a mempool transaction are not returned.
	ListUnspent(ctx context.Context, address string) ([]*UTXO, error)
}

// Broadcaster submits signed transactions.
type Broadcaster interface {
	// Submit broadcasts rawTx and returns the transaction id reported by the
	// network. Failures wrap ErrTransport or ErrRejectedByNetwork.
	Submit(ctx context.Context, rawTx []byte) (string, error)
}

// TxStatusProvider reports the confirmation status of a transaction.
type TxStatusProvider interface {
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)
}

// BlockchainService is everything the ledger needs from a chain backend.
type BlockchainService interface {
	UnspentLister
	Broadcaster
	TxStatusProvider
}

// UTXO represents an upstream unspent transaction output.
type UTXO struct {
	TxID           string `json:"txid"`
	Vout           uint32 `json:"vout"`
	Amount         uint64 `json:"amount"`
	ScriptPubKey   string `json:"script_pubkey,omitempty"` // hex, empty when the backend omits it
	Address        string `json:"address"`
	Confirmations  int64  `json:"confirmations"`
	Height         int64  `json:"height"`
	SpentInMempool bool   `json:"spent_in_mempool,omitempty"`
}

// TxStatus represents the confirmation status of a transaction.
type TxStatus struct {
	Confirmed     bool   `json:"confirmed"`
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"block_hash"`
	BlockHeight   uint64 `json:"block_height"`
}

// filterMempoolSpent drops outputs already consumed by a mempool transaction.
func filterMempoolSpent(utxos []*UTXO) []*UTXO {
	out := utxos[:0]
	for _, u := range utxos {
		if !u.SpentInMempool {
			out = append(out, u)
		}
	}
	return out
}
