package rpc

import (
	"context"
	"encoding/json"

	"github.com/onchain-portfolio/walletlink/internal/storage"
)

// ========================================
// Session journal handlers
// ========================================

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HistoryParams is the request for session_history.
type HistoryParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HistoryResult is the response for session_history.
type HistoryResult struct {
	Sessions    []*storage.SessionRecord `json:"sessions"`
	Transitions []*storage.JournalEntry  `json:"transitions"`
}

func (s *Server) sessionHistory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}

	var p HistoryParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.Limit < 0:
		return nil, invalidParams("limit must not be negative")
	case p.Limit == 0:
		p.Limit = defaultHistoryLimit
	case p.Limit > maxHistoryLimit:
		p.Limit = maxHistoryLimit
	}

	result := &HistoryResult{
		Sessions:    []*storage.SessionRecord{},
		Transitions: []*storage.JournalEntry{},
	}

	if p.SessionID != "" {
		rec, err := s.store.GetSession(p.SessionID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result.Sessions = append(result.Sessions, rec)
		}
	} else {
		sessions, err := s.store.ListSessions(p.Limit)
		if err != nil {
			return nil, err
		}
		if sessions != nil {
			result.Sessions = sessions
		}
	}

	transitions, err := s.store.ListJournal(p.SessionID, p.Limit)
	if err != nil {
		return nil, err
	}
	if transitions != nil {
		result.Transitions = transitions
	}
	return result, nil
}
