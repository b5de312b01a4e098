package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// Recorder is a wallet.Sink that persists sessions and the transition
// journal. A session opens when an account connects and ends when the
// machine reports disconnected; a different account opens a new one.
type Recorder struct {
	store *Storage
	keep  int
	log   *logging.Logger

	mu      sync.Mutex
	current *SessionRecord
}

// NewRecorder returns a Recorder that keeps at most keep journal entries.
// A session left open by a previous run is resumed if the same account
// connects again.
func NewRecorder(store *Storage, keep int, log *logging.Logger) (*Recorder, error) {
	last, err := store.LastSession()
	if err != nil {
		return nil, err
	}
	r := &Recorder{store: store, keep: keep, log: log}
	if last != nil && last.Open() {
		r.current = last
	}
	return r, nil
}

// Emit implements wallet.Sink. Storage failures are logged; they never
// block the machine.
func (r *Recorder) Emit(s wallet.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	switch s.Status {
	case wallet.StatusConnected:
		account := s.Account.Hex()
		if r.current != nil && r.current.Account != account {
			r.endCurrent(now)
		}
		if r.current == nil {
			r.current = &SessionRecord{ID: uuid.NewString(), Account: account, StartedAt: now}
			r.log.Debug("Session started", "session", r.current.ID, "account", account)
		}
		r.current.ChainID = s.ChainID
		r.current.LastSeenAt = now
		if err := r.store.SaveSession(r.current); err != nil {
			r.log.Warn("Failed to save session", "session", r.current.ID, "error", err)
		}
	case wallet.StatusDisconnected:
		r.endCurrent(now)
	}

	entry := &JournalEntry{
		Status:     s.Status.String(),
		ChainID:    s.ChainID,
		RecordedAt: now,
	}
	if r.current != nil {
		entry.SessionID = r.current.ID
	}
	if s.IsConnected {
		entry.Account = s.Account.Hex()
	}
	if s.Network != nil {
		entry.Network = s.Network.Name
	}
	if s.Contract != nil {
		entry.Contract = s.Contract.Address().Hex()
	}
	if err := r.store.AppendJournal(entry, r.keep); err != nil {
		r.log.Warn("Failed to record transition", "status", entry.Status, "error", err)
	}
}

// Current returns a copy of the open session, or nil.
func (r *Recorder) Current() *SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

func (r *Recorder) endCurrent(now time.Time) {
	if r.current == nil {
		return
	}
	if err := r.store.EndSession(r.current.ID, now); err != nil {
		r.log.Warn("Failed to end session", "session", r.current.ID, "error", err)
	}
	r.log.Debug("Session ended", "session", r.current.ID)
	r.current = nil
}
