package rpc

import (
	"context"
	"encoding/json"

	"github.com/onchain-portfolio/walletlink/internal/contracts/portfolio"
)

// ========================================
// Portfolio contract handlers
// ========================================

// PortfolioInfoResult is the response for portfolio_info.
type PortfolioInfoResult struct {
	Contract *portfolio.Handle       `json:"contract"`
	Owner    string                  `json:"owner"`
	Info     *portfolio.PersonalInfo `json:"info"`
}

// PortfolioStatsResult is the response for portfolio_stats.
type PortfolioStatsResult struct {
	Contract *portfolio.Handle `json:"contract"`
	Stats    *portfolio.Stats  `json:"stats"`
}

// contract returns the handle bound to the current session.
func (s *Server) contract() (*portfolio.Handle, error) {
	snap := s.machine.Snapshot()
	if snap.Contract == nil {
		return nil, &stateError{err: ErrNoContract, state: snap}
	}
	return snap.Contract, nil
}

func (s *Server) portfolioInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	h, err := s.contract()
	if err != nil {
		return nil, err
	}

	owner, err := h.Owner(ctx)
	if err != nil {
		return nil, err
	}
	info, err := h.PersonalInfo(ctx)
	if err != nil {
		return nil, err
	}

	return &PortfolioInfoResult{Contract: h, Owner: owner.Hex(), Info: info}, nil
}

func (s *Server) portfolioStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	h, err := s.contract()
	if err != nil {
		return nil, err
	}

	stats, err := h.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &PortfolioStatsResult{Contract: h, Stats: stats}, nil
}
