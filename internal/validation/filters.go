// Package validation drops malformed records before they reach the analytics
// and verifies on-chain identifiers before RPC lookups.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/treasury-functions/internal/model"
)

var (
	// ErrInvalidHash is returned for anything that is not a 0x-prefixed 32-byte hex string
	ErrInvalidHash = errors.New("invalid transaction hash")

	// ErrInvalidAddress is returned for anything that is not a 20-byte hex address
	ErrInvalidAddress = errors.New("invalid address")
)

func validQuantity(q float64) bool {
	return q >= 0 && !math.IsNaN(q) && !math.IsInf(q, 0)
}

// FilterTreasuryAssets removes assets without an id or with a negative quantity
func FilterTreasuryAssets(assets []model.TreasuryAsset) []model.TreasuryAsset {
	valid := make([]model.TreasuryAsset, 0, len(assets))
	for _, a := range assets {
		if strings.TrimSpace(a.ID) == "" {
			logrus.Warnf("Dropping treasury asset %q: missing id", a.Symbol)
			continue
		}
		if !validQuantity(a.Quantity) {
			logrus.Warnf("Dropping treasury asset %s: invalid quantity %v", a.ID, a.Quantity)
			continue
		}
		valid = append(valid, a)
	}
	return valid
}

// FilterHarvests removes harvests without an id or date, or with a negative quantity
func FilterHarvests(harvests []model.Harvest) []model.Harvest {
	valid := make([]model.Harvest, 0, len(harvests))
	for _, h := range harvests {
		switch {
		case strings.TrimSpace(h.ID) == "":
			logrus.Warnf("Dropping harvest of %q: missing id", h.AssetSymbol)
		case h.Date.IsZero():
			logrus.Warnf("Dropping harvest of %s: missing date", h.ID)
		case !validQuantity(h.Quantity):
			logrus.Warnf("Dropping harvest of %s: invalid quantity %v", h.ID, h.Quantity)
		default:
			valid = append(valid, h)
		}
	}
	return valid
}

// TransactionHash parses a 0x-prefixed 32-byte transaction hash
func TransactionHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w %q: %v", ErrInvalidHash, s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w %q: expected %d bytes, got %d", ErrInvalidHash, s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// Address checks a wallet address and returns its checksummed form
func Address(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
