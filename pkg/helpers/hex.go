// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidChainID is returned when a chain identifier cannot be parsed.
var ErrInvalidChainID = errors.New("invalid chain id")

// ParseChainID parses a chain identifier as wallets report it. Providers send
// 0x-prefixed hex quantities ("0xaa36a7"); older ones send decimal strings
// ("11155111"). Zero is rejected since no network uses it.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidChainID)
	}

	var (
		id  uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		id, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		id, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChainID, s)
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidChainID)
	}
	return id, nil
}

// ChainIDHex formats a chain id the way wallet_switchEthereumChain expects it.
func ChainIDHex(id uint64) string {
	return "0x" + strconv.FormatUint(id, 16)
}

// IsZeroAddress reports whether addr is the zero address, which the
// contract tables use to mean "nothing deployed".
func IsZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}

// ShortAddress abbreviates an address for log output: 0x1234…abcd.
func ShortAddress(addr common.Address) string {
	if IsZeroAddress(addr) {
		return "none"
	}
	s := addr.Hex()
	return s[:6] + "…" + s[len(s)-4:]
}
