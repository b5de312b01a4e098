package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// PersonalInfo is the profile stored in the Portfolio contract.
type PersonalInfo struct {
	Name           string   `json:"name"`
	Bio            string   `json:"bio"`
	ProfileImage   string   `json:"profileImage"`
	ResumeLink     string   `json:"resumeLink"`
	Location       string   `json:"location"`
	Email          string   `json:"email"`
	TotalDonations *big.Int `json:"totalDonations"`
	ProfileViews   *big.Int `json:"profileViews"`
}

// Stats holds the entry counts returned by getPortfolioStats.
type Stats struct {
	Projects     *big.Int `json:"projects"`
	Education    *big.Int `json:"education"`
	Experience   *big.Int `json:"experience"`
	Skills       *big.Int `json:"skills"`
	Achievements *big.Int `json:"achievements"`
	TotalLikes   *big.Int `json:"totalLikes"`
	TotalViews   *big.Int `json:"totalViews"`
}

// Handle is a Portfolio contract bound to one chain, one address and one
// signer. Handles are immutable and safe for concurrent use.
type Handle struct {
	chainID  uint64
	address  common.Address
	signer   common.Address
	contract *bind.BoundContract
}

// ChainID returns the chain the handle is bound to.
func (h *Handle) ChainID() uint64 { return h.chainID }

// Address returns the contract address.
func (h *Handle) Address() common.Address { return h.address }

// Signer returns the account calls are made from.
func (h *Handle) Signer() common.Address { return h.signer }

// MarshalJSON describes the binding, not the connection behind it.
// Addresses are checksummed to match the account in emitted states.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ChainID uint64 `json:"chainId"`
		Address string `json:"address"`
		Signer  string `json:"signer"`
	}{h.chainID, h.address.Hex(), h.signer.Hex()})
}

func (h *Handle) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: h.signer}
}

// Owner returns the contract owner.
func (h *Handle) Owner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := h.contract.Call(h.callOpts(ctx), &out, "owner"); err != nil {
		return common.Address{}, fmt.Errorf("owner: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// PersonalInfo reads the profile.
func (h *Handle) PersonalInfo(ctx context.Context) (*PersonalInfo, error) {
	var out []interface{}
	if err := h.contract.Call(h.callOpts(ctx), &out, "personalInfo"); err != nil {
		return nil, fmt.Errorf("personalInfo: %w", err)
	}

	info := &PersonalInfo{
		Name:           *abi.ConvertType(out[0], new(string)).(*string),
		Bio:            *abi.ConvertType(out[1], new(string)).(*string),
		ProfileImage:   *abi.ConvertType(out[2], new(string)).(*string),
		ResumeLink:     *abi.ConvertType(out[3], new(string)).(*string),
		Location:       *abi.ConvertType(out[4], new(string)).(*string),
		Email:          *abi.ConvertType(out[5], new(string)).(*string),
		TotalDonations: *abi.ConvertType(out[6], new(*big.Int)).(**big.Int),
		ProfileViews:   *abi.ConvertType(out[7], new(*big.Int)).(**big.Int),
	}
	return info, nil
}

// Stats reads the portfolio entry counts.
func (h *Handle) Stats(ctx context.Context) (*Stats, error) {
	var out []interface{}
	if err := h.contract.Call(h.callOpts(ctx), &out, "getPortfolioStats"); err != nil {
		return nil, fmt.Errorf("getPortfolioStats: %w", err)
	}

	n := func(i int) *big.Int { return *abi.ConvertType(out[i], new(*big.Int)).(**big.Int) }
	return &Stats{
		Projects:     n(0),
		Education:    n(1),
		Experience:   n(2),
		Skills:       n(3),
		Achievements: n(4),
		TotalLikes:   n(5),
		TotalViews:   n(6),
	}, nil
}
