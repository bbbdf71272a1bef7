package network

import "context"

// MockBlockchainService is a test double for BlockchainService.
// All function fields must be set before the corresponding method is called.
type MockBlockchainService struct {
	ListUnspentFn func(ctx context.Context, address string) ([]*UTXO, error)
	SubmitFn      func(ctx context.Context, rawTx []byte) (string, error)
	GetTxStatusFn func(ctx context.Context, txid string) (*TxStatus, error)
}

// Compile-time interface check.
var _ BlockchainService = (*MockBlockchainService)(nil)

func (m *MockBlockchainService) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return m.ListUnspentFn(ctx, address)
}
func (m *MockBlockchainService) Submit(ctx context.Context, rawTx []byte) (string, error) {
	return m.SubmitFn(ctx, rawTx)
}
func (m *MockBlockchainService) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	return m.GetTxStatusFn(ctx, txid)
}
