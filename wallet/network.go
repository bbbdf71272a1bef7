package wallet

import (
	"encoding/json"
	"fmt"
	"os"
)

// NetworkConfig defines the address parameters of a BSV network.
type NetworkConfig struct {
	Name           string `json:"name"`
	AddressVersion byte   `json:"address_version"`
	P2SHVersion    byte   `json:"p2sh_version"`
	// RPCPort is the node's default JSON-RPC port on this network.
	RPCPort uint16 `json:"rpc_port"`
}

// Mainnet reports whether addresses on this network use the mainnet prefix.
func (n *NetworkConfig) Mainnet() bool {
	return n.AddressVersion == MainNet.AddressVersion
}

// Predefined network configurations.
var (
	MainNet = NetworkConfig{
		Name:           "mainnet",
		AddressVersion: 0x00,
		P2SHVersion:    0x05,
		RPCPort:        8332,
	}

	TestNet = NetworkConfig{
		Name:           "testnet",
		AddressVersion: 0x6f,
		P2SHVersion:    0xc4,
		RPCPort:        18332,
	}

	RegTest = NetworkConfig{
		Name:           "regtest",
		AddressVersion: 0x6f,
		P2SHVersion:    0xc4,
		RPCPort:        18443,
	}
)

// predefined maps network names to their configs.
var predefined = map[string]*NetworkConfig{
	"mainnet": &MainNet,
	"main":    &MainNet,
	"testnet": &TestNet,
	"test":    &TestNet,
	"regtest": &RegTest,
}

// GetNetwork returns a predefined network by name.
// If the name is not predefined, it returns ErrInvalidNetwork.
func GetNetwork(name string) (*NetworkConfig, error) {
	if net, ok := predefined[name]; ok {
		return net, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, name)
}

// lookupNetwork resolves name against custom networks first, then the
// predefined ones.
func lookupNetwork(name string, custom []*NetworkConfig) (*NetworkConfig, error) {
	for _, n := range custom {
		if n != nil && n.Name == name {
			return n, nil
		}
	}
	return GetNetwork(name)
}

// LoadCustomNetwork loads a NetworkConfig from a JSON file.
func LoadCustomNetwork(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to read network config: %w", err)
	}

	var config NetworkConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("wallet: failed to parse network config: %w", err)
	}

	if config.Name == "" {
		return nil, fmt.Errorf("wallet: network config must have a name")
	}

	return &config, nil
}
