package rpc

import (
	"context"
	"encoding/json"
	"time"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Daemon handlers
// ========================================

// DaemonStatusResult is the response for daemon_status.
type DaemonStatusResult struct {
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	ProviderPresent bool   `json:"providerPresent"`
	Networks        int    `json:"networks"`
	WSClients       int    `json:"wsClients"`
	Journal         int    `json:"journal"`
}

func (s *Server) daemonStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	journal := 0
	if s.store != nil {
		if n, err := s.store.JournalCount(); err == nil {
			journal = n
		}
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &DaemonStatusResult{
		Version:         Version,
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		ProviderPresent: s.machine.Snapshot().Provider != nil,
		Networks:        s.machine.Registry().Len(),
		WSClients:       wsClients,
		Journal:         journal,
	}, nil
}

// decodeParams unmarshals optional params into v. Missing params leave v
// untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}
