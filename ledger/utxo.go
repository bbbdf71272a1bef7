package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TxIDHexLen is the length of a display-order transaction id in hex.
const TxIDHexLen = 64

// UnknownSpendingTxID marks outputs found spent upstream by a sweep whose
// spending transaction was never observed locally.
const UnknownSpendingTxID = "unknown"

// Status is the lifecycle state of a tracked output.
type Status uint8

const (
	// StatusAvailable outputs may be selected and reserved.
	StatusAvailable Status = iota
	// StatusReserved outputs are held by an in-flight transaction.
	StatusReserved
	// StatusSpent outputs were consumed by a broadcast transaction.
	StatusSpent
	// StatusConfirmedSpent outputs were consumed by a confirmed transaction.
	StatusConfirmedSpent
)

var statusNames = [...]string{"available", "reserved", "spent", "confirmed_spent"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses the textual form produced by Status.String.
func ParseStatus(str string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(str, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("ledger: unknown status %q", str)
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusAvailable, StatusReserved, StatusSpent, StatusConfirmedSpent}

// Source records how an output came to be tracked.
type Source uint8

const (
	SourceChainFetch Source = iota
	SourceChangeOutput
	SourceManualAdd
	SourceSyncReconciliation
	SourceSplitOperation
)

var sourceNames = [...]string{"chain_fetch", "change_output", "manual_add", "sync_reconciliation", "split_operation"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	for i, name := range sourceNames {
		if strings.EqualFold(string(b), name) {
			*s = Source(i)
			return nil
		}
	}
	return fmt.Errorf("ledger: unknown source %q", string(b))
}

// Outpoint identifies an output by creating transaction and index.
type Outpoint struct {
	TxID string `json:"txid"` // 64 hex chars, display order
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string { return fmt.Sprintf("%s:%d", o.TxID, o.Vout) }

// Validate checks the txid is 32 bytes of lowercase-insensitive hex.
func (o Outpoint) Validate() error {
	if len(o.TxID) != TxIDHexLen {
		return fmt.Errorf("%w: txid must be %d hex chars, got %d", ErrInvalidOutput, TxIDHexLen, len(o.TxID))
	}
	if _, err := hex.DecodeString(o.TxID); err != nil {
		return fmt.Errorf("%w: txid is not hex: %w", ErrInvalidOutput, err)
	}
	return nil
}

// key returns the canonical storage key: lowercase txid bytes followed by
// the zero-padded decimal vout, so keys sort by txid then vout.
func (o Outpoint) key() []byte {
	k := make([]byte, 0, TxIDHexLen+1+10)
	k = append(k, strings.ToLower(o.TxID)...)
	k = append(k, ':')
	k = fmt.Appendf(k, "%010d", o.Vout)
	return k
}

// UnspentOutput is a tracked transaction output and its lifecycle state.
type UnspentOutput struct {
	Outpoint
	Satoshis      uint64     `json:"satoshis"`
	LockingScript []byte     `json:"locking_script"`
	OwnerAddress  string     `json:"owner_address"`
	Status        Status     `json:"status"`
	Source        Source     `json:"source"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	ReservedAt    *time.Time `json:"reserved_at,omitempty"`
	SpentAt       *time.Time `json:"spent_at,omitempty"`
	SpendingTxID  string     `json:"spending_txid,omitempty"`
}

// LockingScriptHex returns the locking script as hex.
func (u *UnspentOutput) LockingScriptHex() string {
	return hex.EncodeToString(u.LockingScript)
}

// Clone returns a deep copy so callers never share records with the store.
func (u *UnspentOutput) Clone() *UnspentOutput {
	if u == nil {
		return nil
	}
	cp := *u
	cp.LockingScript = append([]byte(nil), u.LockingScript...)
	if u.ReservedAt != nil {
		t := *u.ReservedAt
		cp.ReservedAt = &t
	}
	if u.SpentAt != nil {
		t := *u.SpentAt
		cp.SpentAt = &t
	}
	return &cp
}

func (u *UnspentOutput) validate() error {
	if u == nil {
		return fmt.Errorf("%w: output", ErrNilParam)
	}
	if err := u.Outpoint.Validate(); err != nil {
		return err
	}
	if u.OwnerAddress == "" {
		return fmt.Errorf("%w: owner address is empty", ErrInvalidOutput)
	}
	return nil
}

// Balance is the spendable balance of an address.
type Balance struct {
	Available uint64 `json:"available"`
	Reserved  uint64 `json:"reserved"`
}

// Spendable returns Available + Reserved.
func (b Balance) Spendable() uint64 { return b.Available + b.Reserved }

// StatusCount aggregates outputs in one status.
type StatusCount struct {
	Count    int    `json:"count"`
	Satoshis uint64 `json:"satoshis"`
}

// WalletStats is the reporting view of one address.
type WalletStats struct {
	Address          string                 `json:"address"`
	TotalBalance     uint64                 `json:"total_balance"`
	AvailableBalance uint64                 `json:"available_balance"`
	StatusBreakdown  map[Status]StatusCount `json:"status_breakdown"`
}
