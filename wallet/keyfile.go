package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"

	"github.com/bitfsorg/libledger-go/tx"
)

// KeyFile is the persisted wallet file. Generating and storing it is the
// job of an external key manager; this package only reads it.
type KeyFile struct {
	PrivateKey string    `json:"privateKey"` // WIF
	PublicKey  string    `json:"publicKey"`  // compressed, hex
	Address    string    `json:"address"`
	Network    string    `json:"network"`
	Created    time.Time `json:"created"`
}

// Identity is a loaded signing key and the address it controls.
type Identity struct {
	key     *ec.PrivateKey
	address string
	network *NetworkConfig
	created time.Time
}

// NewIdentity derives the P2PKH address of key on network.
func NewIdentity(key *ec.PrivateKey, network *NetworkConfig) (*Identity, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidKeyFile)
	}
	if network == nil {
		return nil, fmt.Errorf("%w: nil network", ErrInvalidNetwork)
	}
	addr, err := script.NewAddressFromPublicKey(key.PubKey(), network.Mainnet())
	if err != nil {
		return nil, fmt.Errorf("wallet: derive address: %w", err)
	}
	return &Identity{key: key, address: addr.AddressString, network: network}, nil
}

// LoadKeyFile reads and validates the wallet file at path. Networks in
// custom are accepted besides the predefined ones.
func LoadKeyFile(path string, custom ...*NetworkConfig) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidKeyFile, path, err)
	}
	return ParseKeyFile(data, custom...)
}

// ParseKeyFile validates a wallet file: the WIF must decode, and the public
// key and address, when present, must be derived from it on the named network.
func ParseKeyFile(data []byte, custom ...*NetworkConfig) (*Identity, error) {
	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyFile, err)
	}
	if kf.PrivateKey == "" {
		return nil, fmt.Errorf("%w: missing privateKey", ErrInvalidKeyFile)
	}

	network, err := lookupNetwork(kf.Network, custom)
	if err != nil {
		return nil, err
	}
	key, err := ec.PrivateKeyFromWif(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: privateKey: %w", ErrInvalidKeyFile, err)
	}

	id, err := NewIdentity(key, network)
	if err != nil {
		return nil, err
	}
	id.created = kf.Created

	if kf.PublicKey != "" && kf.PublicKey != hex.EncodeToString(key.PubKey().Compressed()) {
		return nil, fmt.Errorf("%w: publicKey", ErrKeyMismatch)
	}
	if kf.Address != "" && kf.Address != id.address {
		return nil, fmt.Errorf("%w: address %s, key derives %s on %s",
			ErrKeyMismatch, kf.Address, id.address, network.Name)
	}
	return id, nil
}

// Address returns the P2PKH address controlled by the key.
func (i *Identity) Address() string { return i.address }

// PrivateKey returns the signing key.
func (i *Identity) PrivateKey() *ec.PrivateKey { return i.key }

// PublicKey returns the public half of the signing key.
func (i *Identity) PublicKey() *ec.PublicKey { return i.key.PubKey() }

// Network returns the network the address belongs to.
func (i *Identity) Network() *NetworkConfig { return i.network }

// Created returns the creation time recorded in the wallet file.
func (i *Identity) Created() time.Time { return i.created }

// LockingScript returns the P2PKH script paying the identity's address.
func (i *Identity) LockingScript() ([]byte, error) {
	return tx.BuildP2PKHScript(i.key.PubKey(), i.network.Mainnet())
}

// KeyFile returns the wallet file describing this identity.
func (i *Identity) KeyFile() KeyFile {
	return KeyFile{
		PrivateKey: i.key.Wif(),
		PublicKey:  hex.EncodeToString(i.key.PubKey().Compressed()),
		Address:    i.address,
		Network:    i.network.Name,
		Created:    i.created,
	}
}
