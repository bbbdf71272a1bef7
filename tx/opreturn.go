package tx

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
)

// dataPrefix is OP_FALSE OP_RETURN, the provably unspendable data prefix.
var dataPrefix = []byte{script.Op0, script.OpRETURN}

// MaxDataScriptSize caps the size of a single data output script.
const MaxDataScriptSize = 1 << 20

// BuildDataScript creates an OP_FALSE OP_RETURN script carrying pushes in order.
func BuildDataScript(pushes ...[]byte) ([]byte, error) {
	if len(pushes) == 0 {
		return nil, fmt.Errorf("%w: no data pushes", ErrInvalidPayload)
	}
	s := &script.Script{}
	*s = append(*s, dataPrefix...)
	for _, push := range pushes {
		if err := s.AppendPushData(push); err != nil {
			return nil, fmt.Errorf("%w: OP_RETURN push data: %w", ErrScriptBuild, err)
		}
	}
	if len(*s) > MaxDataScriptSize {
		return nil, fmt.Errorf("%w: data script is %d bytes, limit %d", ErrInvalidPayload, len(*s), MaxDataScriptSize)
	}
	return []byte(*s), nil
}

// ParseDataScript returns the pushes of an OP_FALSE OP_RETURN script.
func ParseDataScript(b []byte) ([][]byte, error) {
	if !bytes.HasPrefix(b, dataPrefix) {
		return nil, fmt.Errorf("%w: missing OP_FALSE OP_RETURN prefix", ErrInvalidOPReturn)
	}
	chunks, err := script.NewFromBytes(b[len(dataPrefix):]).Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOPReturn, err)
	}
	pushes := make([][]byte, 0, len(chunks))
	for i, c := range chunks {
		if c.Op > script.OpPUSHDATA4 {
			return nil, fmt.Errorf("%w: chunk %d is opcode 0x%02x, not a push", ErrInvalidOPReturn, i, c.Op)
		}
		pushes = append(pushes, c.Data)
	}
	return pushes, nil
}
