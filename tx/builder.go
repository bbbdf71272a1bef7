package tx

import (
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Builder assembles and signs transactions under one fee policy.
type Builder struct {
	policy FeePolicy
}

// NewBuilder returns a Builder charging fees per policy.
func NewBuilder(policy FeePolicy) *Builder {
	return &Builder{policy: policy}
}

// Policy returns the builder's fee policy.
func (b *Builder) Policy() FeePolicy { return b.policy }

// DataTxParams holds parameters for building a data transaction.
type DataTxParams struct {
	Inputs        []*UTXO        // reserved outputs to spend, all owned by Key
	ChangeAddress string         // receives the change output
	Payload       [][]byte       // data pushes after OP_FALSE OP_RETURN
	Key           *ec.PrivateKey // signs every input
}

// DataTx is a signed data transaction.
type DataTx struct {
	RawTx        []byte
	TxID         string // hex, display order
	Fee          uint64
	ChangeAmount uint64
	ChangeVout   uint32 // valid when ChangeAmount > 0
	ChangeScript []byte // nil when ChangeAmount == 0
	Size         int    // estimated signed size used for the fee
}

// BuildData constructs a signed data transaction.
//
// Output layout:
//
//	[0] OP_FALSE OP_RETURN <payload...>  (0 sat)
//	[1] P2PKH -> ChangeAddress           (total input - fee, omitted when 0)
//
// The fee is EstimateFee(DataTxSize(len(Inputs), len(dataScript), 1)).
func (b *Builder) BuildData(params *DataTxParams) (*DataTx, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: params", ErrNilParam)
	}
	if len(params.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInvalidParams)
	}
	for i, in := range params.Inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: input[%d]", ErrNilParam, i)
		}
	}
	if params.Key == nil {
		return nil, fmt.Errorf("%w: signing key", ErrNilParam)
	}

	dataScript, err := BuildDataScript(params.Payload...)
	if err != nil {
		return nil, err
	}
	changeScript, err := LockingScript(params.ChangeAddress)
	if err != nil {
		return nil, err
	}

	size := DataTxSize(len(params.Inputs), len(dataScript), 1)
	fee := b.policy.Fee(size)
	total := sumInputs(params.Inputs)
	if total < fee {
		return nil, fmt.Errorf("%w: need %d sat, have %d sat", ErrInsufficientFunds, fee, total)
	}
	change := total - fee

	sdkTx := transaction.NewTransaction()
	if err := addInputs(sdkTx, params.Inputs); err != nil {
		return nil, err
	}
	sdkTx.AddOutput(&transaction.TransactionOutput{
		Satoshis:      0,
		LockingScript: script.NewFromBytes(dataScript),
	})

	result := &DataTx{Fee: fee, Size: size}
	if change > 0 {
		sdkTx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      change,
			LockingScript: script.NewFromBytes(changeScript),
		})
		result.ChangeAmount = change
		result.ChangeVout = 1
		result.ChangeScript = changeScript
	}

	if err := signInputs(sdkTx, params.Inputs, params.Key); err != nil {
		return nil, err
	}
	result.RawTx = sdkTx.Bytes()
	result.TxID = sdkTx.TxID().String()
	return result, nil
}

// SplitParams holds parameters for splitting one output into equal parts.
type SplitParams struct {
	Input   *UTXO
	Address string // receives every part
	Count   int
	Key     *ec.PrivateKey
}

// SplitOutput is one part produced by a split.
type SplitOutput struct {
	Vout   uint32
	Amount uint64
}

// SplitTx is a signed split transaction.
type SplitTx struct {
	RawTx         []byte
	TxID          string
	Fee           uint64
	LockingScript []byte // shared by every output
	Outputs       []SplitOutput
}

// BuildSplit spends Input into Count P2PKH outputs to Address of (nearly)
// equal value; the remainder of the division goes to the last output.
// Every part must be at least DustLimit.
func (b *Builder) BuildSplit(params *SplitParams) (*SplitTx, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: params", ErrNilParam)
	}
	if params.Input == nil {
		return nil, fmt.Errorf("%w: input", ErrNilParam)
	}
	if params.Key == nil {
		return nil, fmt.Errorf("%w: signing key", ErrNilParam)
	}
	if params.Count < 2 {
		return nil, fmt.Errorf("%w: split count must be at least 2, got %d", ErrInvalidParams, params.Count)
	}

	lockScript, err := LockingScript(params.Address)
	if err != nil {
		return nil, err
	}

	lens := make([]int, params.Count)
	for i := range lens {
		lens[i] = P2PKHLockingScriptLen
	}
	fee := b.policy.Fee(TxSize(1, lens...))

	if params.Input.Amount < fee {
		return nil, fmt.Errorf("%w: need %d sat for fee, have %d sat", ErrInsufficientFunds, fee, params.Input.Amount)
	}
	spendable := params.Input.Amount - fee
	part := spendable / uint64(params.Count)
	if part < DustLimit {
		return nil, fmt.Errorf("%w: %d parts of %d sat are below the dust limit %d",
			ErrInsufficientFunds, params.Count, part, DustLimit)
	}

	sdkTx := transaction.NewTransaction()
	if err := addInputs(sdkTx, []*UTXO{params.Input}); err != nil {
		return nil, err
	}
	outputs := make([]SplitOutput, params.Count)
	for i := range outputs {
		amount := part
		if i == params.Count-1 {
			amount += spendable % uint64(params.Count)
		}
		sdkTx.AddOutput(&transaction.TransactionOutput{
			Satoshis:      amount,
			LockingScript: script.NewFromBytes(lockScript),
		})
		outputs[i] = SplitOutput{Vout: uint32(i), Amount: amount}
	}

	if err := signInputs(sdkTx, []*UTXO{params.Input}, params.Key); err != nil {
		return nil, err
	}
	return &SplitTx{
		RawTx:         sdkTx.Bytes(),
		TxID:          sdkTx.TxID().String(),
		Fee:           fee,
		LockingScript: lockScript,
		Outputs:       outputs,
	}, nil
}

func addInputs(sdkTx *transaction.Transaction, inputs []*UTXO) error {
	for _, in := range inputs {
		h, err := in.hash()
		if err != nil {
			return err
		}
		sdkTx.AddInput(&transaction.TransactionInput{
			SourceTXID:       h,
			SourceTxOutIndex: in.Vout,
			SequenceNumber:   transaction.DefaultSequenceNumber,
		})
	}
	return nil
}
