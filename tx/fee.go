package tx

const (
	// DustLimit is the minimum value of a P2PKH output created by a split.
	DustLimit = uint64(546)

	// DefaultFeeRate is the default fee rate in sat/KB.
	DefaultFeeRate = uint64(10)

	// P2PKHUnlockingScriptLen is the size budgeted for one signed P2PKH
	// unlocking script: a DER signature with sighash byte plus a compressed
	// public key, each with its push opcode.
	P2PKHUnlockingScriptLen = 107

	// P2PKHLockingScriptLen is the size of a P2PKH locking script.
	P2PKHLockingScriptLen = 25

	txOverhead     = 4 + 4          // version + locktime
	unsignedInput  = 32 + 4 + 1 + 4 // prev hash + index + empty script varint + sequence
	outputOverhead = 8              // value
)

// FeePolicy is the single fee configuration passed to the builder.
type FeePolicy struct {
	// RatePerKB is the fee rate in satoshis per 1000 bytes.
	RatePerKB uint64 `yaml:"rate_per_kb" json:"rate_per_kb"`
}

// DefaultFeePolicy returns the policy at DefaultFeeRate.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{RatePerKB: DefaultFeeRate}
}

func (p FeePolicy) rate() uint64 {
	if p.RatePerKB == 0 {
		return DefaultFeeRate
	}
	return p.RatePerKB
}

// Fee returns the fee for a transaction of size bytes.
func (p FeePolicy) Fee(size int) uint64 {
	return EstimateFee(size, p.rate())
}

// DataFee returns the fee of a data transaction with the given shape. It is
// the fee function the selector is handed by the publishing pipeline.
func (p FeePolicy) DataFee(inputs, dataScriptLen int) uint64 {
	return p.Fee(DataTxSize(inputs, dataScriptLen, 1))
}

// EstimateFee estimates the transaction fee for a given size and fee rate.
// Returns ceil(txSizeBytes * feeRate / 1000).
func EstimateFee(txSizeBytes int, feeRate uint64) uint64 {
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}
	fee := uint64(txSizeBytes) * feeRate
	// Ceiling division by 1000
	return (fee + 999) / 1000
}

// varIntLen is the encoded length of a Bitcoin varint.
func varIntLen(n int) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func outputSize(scriptLen int) int {
	return outputOverhead + varIntLen(scriptLen) + scriptLen
}

// TxSize returns the serialized size of a transaction spending inputs P2PKH
// outputs into outputs with the given script lengths, counting
// P2PKHUnlockingScriptLen per input for the signatures.
func TxSize(inputs int, outputScriptLens ...int) int {
	size := txOverhead + varIntLen(inputs) + varIntLen(len(outputScriptLens))
	size += inputs * (unsignedInput + P2PKHUnlockingScriptLen)
	for _, l := range outputScriptLens {
		size += outputSize(l)
	}
	return size
}

// DataTxSize is TxSize for a data transaction: one data output of
// dataScriptLen bytes followed by changeOutputs P2PKH outputs.
func DataTxSize(inputs, dataScriptLen, changeOutputs int) int {
	lens := make([]int, 0, 1+changeOutputs)
	lens = append(lens, dataScriptLen)
	for i := 0; i < changeOutputs; i++ {
		lens = append(lens, P2PKHLockingScriptLen)
	}
	return TxSize(inputs, lens...)
}
