package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// Compile-time interface check.
var _ BlockchainService = (*RPCClient)(nil)

// RPC error codes returned by bitcoind for rejected transactions.
const (
	rpcVerifyError          = -25
	rpcVerifyRejected       = -26
	rpcVerifyAlreadyInChain = -27
	rpcInvalidAddressOrKey  = -5
)

// btcToSat converts a BTC float64 amount (as returned by the RPC node) to satoshis.
// It uses math.Round to avoid floating-point truncation issues.
func btcToSat(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}

// listUnspentResult maps the JSON fields returned by the Bitcoin RPC listunspent call.
type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

func observeRPC(op string, start time.Time, err error) {
	prometheusChainRequests.WithLabelValues("rpc", op, outcomeLabel(err)).Inc()
	prometheusChainDuration.WithLabelValues("rpc", op).Observe(time.Since(start).Seconds())
}

// ListUnspent returns all unspent transaction outputs for the given address.
// It calls `listunspent 0 9999999 ["address"]` and converts BTC amounts to satoshis.
// The node wallet only reports outputs not spent in its mempool.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) (utxos []*UTXO, err error) {
	defer func(start time.Time) { observeRPC("list_unspent", start, err) }(time.Now())

	params := []interface{}{0, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos = make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        btcToSat(r.Amount),
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// Submit sends a raw transaction with `sendrawtransaction "hex"` and returns
// the txid. A transaction the node already has in a block wraps
// ErrAlreadyInChain. Verification failures from the node wrap
// ErrRejectedByNetwork; everything else keeps its transport classification.
func (c *RPCClient) Submit(ctx context.Context, rawTx []byte) (txid string, err error) {
	defer func(start time.Time) { observeRPC("submit", start, err) }(time.Now())

	params := []interface{}{hex.EncodeToString(rawTx)}
	if err := c.Call(ctx, "sendrawtransaction", params, &txid); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			switch rpcErr.Code {
			case rpcVerifyAlreadyInChain:
				return "", fmt.Errorf("%w: %s", ErrAlreadyInChain, rpcErr.Message)
			case rpcVerifyError, rpcVerifyRejected:
				return "", fmt.Errorf("%w: %s", ErrRejectedByNetwork, rpcErr.Message)
			}
			return "", fmt.Errorf("%w: %w", ErrRejectedByNetwork, err)
		}
		return "", err
	}
	if txid == "" {
		return "", fmt.Errorf("%w: empty txid", ErrInvalidResponse)
	}
	return txid, nil
}

// verboseTxResult maps the JSON fields from getrawtransaction with verbose=true.
type verboseTxResult struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
}

// GetTxStatus returns the confirmation status of a transaction.
// It calls `getrawtransaction "txid" true` (verbose mode) to get confirmation info.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (status *TxStatus, err error) {
	defer func(start time.Time) { observeRPC("tx_status", start, err) }(time.Now())

	params := []interface{}{txid, true}
	var result verboseTxResult
	if err := c.Call(ctx, "getrawtransaction", params, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcInvalidAddressOrKey {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return nil, err
	}
	return &TxStatus{
		Confirmed:     result.Confirmations > 0,
		Confirmations: result.Confirmations,
		BlockHash:     result.BlockHash,
		BlockHeight:   result.BlockHeight,
	}, nil
}
