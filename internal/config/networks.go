package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/treasury-functions/internal/types"
)

// NetworksFile is the on-disk format of the chain registry
type NetworksFile struct {
	Networks []types.Network `json:"networks"`
}

// LoadNetworks reads the chain registry from path, falling back to the built-in
// networks when path is empty. The RPC key is appended to every RPC URL and
// CHAIN_<ID>_RPC_URL overrides a single network's base URL.
func LoadNetworks(path, rpcKey string) ([]types.Network, error) {
	networks := types.DefaultNetworks()

	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read networks file: %w", err)
		}

		var file NetworksFile
		if err := json.Unmarshal(fileData, &file); err != nil {
			return nil, fmt.Errorf("failed to parse networks file: %w", err)
		}
		if len(file.Networks) == 0 {
			return nil, fmt.Errorf("networks file %s defines no networks", path)
		}
		networks = file.Networks
		logrus.Infof("Loaded %d networks from %s", len(networks), path)
	}

	out := make([]types.Network, 0, len(networks))
	for _, n := range networks {
		if n.ChainID == "" || n.RPCURL == "" {
			return nil, fmt.Errorf("network %q needs both chainId and rpcUrl", n.Name)
		}
		if _, err := n.NumericChainID(); err != nil {
			return nil, err
		}

		envKey := "CHAIN_" + strings.ToUpper(strings.TrimPrefix(string(n.ChainID.Normalize()), "0x")) + "_RPC_URL"
		if override, ok := GetEnv(envKey); ok && override != "" {
			n.RPCURL = override
		}
		n.RPCURL += rpcKey
		out = append(out, n)
	}

	return out, nil
}
