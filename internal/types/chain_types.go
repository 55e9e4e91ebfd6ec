// Package types contains shared type definitions used across multiple packages
package types

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrUnknownChain is returned when a chain id has no registered network
var ErrUnknownChain = errors.New("unknown chain")

// ChainID is the hex chain identifier as stored on transactions (e.g. "0x1")
type ChainID string

// Normalize lower-cases the identifier so "0xA" and "0xa" resolve alike
func (id ChainID) Normalize() ChainID {
	return ChainID(strings.ToLower(strings.TrimSpace(string(id))))
}

// Currency describes a chain's native currency
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Network holds configuration for a specific blockchain network
type Network struct {
	Name             string   `json:"name"`
	ChainID          ChainID  `json:"chainId"`
	Symbol           string   `json:"symbol"`
	Decimals         int      `json:"decimals"`
	RPCURL           string   `json:"rpcUrl"`
	BlockExplorerURL string   `json:"blockExplorerUrl"`
	NativeCurrency   Currency `json:"nativeCurrency"`
}

// NumericChainID decodes the hex chain id
func (n Network) NumericChainID() (*big.Int, error) {
	v, err := hexutil.DecodeBig(string(n.ChainID.Normalize()))
	if err != nil {
		return nil, fmt.Errorf("invalid chain id %q: %w", n.ChainID, err)
	}
	return v, nil
}

// TxURL returns the explorer link for a transaction hash
func (n Network) TxURL(hash string) string {
	return strings.TrimRight(n.BlockExplorerURL, "/") + "/tx/" + hash
}

// Registry resolves networks by chain id
type Registry struct {
	networks map[ChainID]Network
}

// NewRegistry builds a registry; later entries override earlier ones with the same id
func NewRegistry(networks []Network) *Registry {
	r := &Registry{networks: make(map[ChainID]Network, len(networks))}
	for _, n := range networks {
		r.networks[n.ChainID.Normalize()] = n
	}
	return r
}

// Lookup returns the network for id or ErrUnknownChain
func (r *Registry) Lookup(id ChainID) (Network, error) {
	n, ok := r.networks[id.Normalize()]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownChain, id)
	}
	return n, nil
}

// Networks returns all registered networks ordered by chain id
func (r *Registry) Networks() []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func ether() Currency {
	return Currency{Name: "Ether", Symbol: "ETH", Decimals: 18}
}

// DefaultNetworks are the chains subscriptions can be paid on. RPC URLs expect the provider key appended.
func DefaultNetworks() []Network {
	return []Network{
		{
			Name:             "Ethereum Mainnet",
			ChainID:          "0x1",
			Symbol:           "ETH",
			Decimals:         18,
			RPCURL:           "https://eth-mainnet.g.alchemy.com/v2/",
			BlockExplorerURL: "https://etherscan.io",
			NativeCurrency:   ether(),
		},
		{
			Name:             "Base",
			ChainID:          "0x2105",
			Symbol:           "ETH",
			Decimals:         18,
			RPCURL:           "https://base-mainnet.g.alchemy.com/v2/",
			BlockExplorerURL: "https://basescan.org",
			NativeCurrency:   ether(),
		},
		{
			Name:             "Optimism",
			ChainID:          "0xa",
			Symbol:           "ETH",
			Decimals:         18,
			RPCURL:           "https://opt-mainnet.g.alchemy.com/v2/",
			BlockExplorerURL: "https://optimistic.etherscan.io",
			NativeCurrency:   ether(),
		},
		{
			Name:             "Arbitrum One",
			ChainID:          "0xa4b1",
			Symbol:           "ETH",
			Decimals:         18,
			RPCURL:           "https://arb-mainnet.g.alchemy.com/v2/",
			BlockExplorerURL: "https://arbiscan.io",
			NativeCurrency:   ether(),
		},
	}
}
