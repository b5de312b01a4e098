package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one settled connection state.
type JournalEntry struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId,omitempty"`
	Status     string    `json:"status"`
	Account    string    `json:"account,omitempty"`
	ChainID    uint64    `json:"chainId,omitempty"`
	Network    string    `json:"network,omitempty"`
	Contract   string    `json:"contract,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// AppendJournal records entry and prunes the oldest entries so that at most
// keep remain. keep <= 0 disables pruning. An empty ID is filled in.
func (s *Storage) AppendJournal(entry *JournalEntry, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO transitions (id, session_id, status, account, chain_id, network, contract, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		nullString(entry.SessionID),
		entry.Status,
		nullString(entry.Account),
		int64(entry.ChainID),
		nullString(entry.Network),
		nullString(entry.Contract),
		entry.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		return err
	}

	if keep > 0 {
		_, err = tx.Exec(`
			DELETE FROM transitions WHERE seq NOT IN (
				SELECT seq FROM transitions ORDER BY seq DESC LIMIT ?
			)
		`, keep)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListJournal returns the newest entries first. sessionID filters when set.
func (s *Storage) ListJournal(sessionID string, limit int) ([]*JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT seq, id, session_id, status, account, chain_id, network, contract, recorded_at
		FROM transitions
	`
	var args []interface{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY seq DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JournalEntry
	for rows.Next() {
		var e JournalEntry
		var session, account, network, contract sql.NullString
		var chainID, recordedAt int64
		if err := rows.Scan(&e.Seq, &e.ID, &session, &e.Status, &account, &chainID, &network, &contract, &recordedAt); err != nil {
			return nil, err
		}
		e.SessionID = session.String
		e.Account = account.String
		e.ChainID = uint64(chainID)
		e.Network = network.String
		e.Contract = contract.String
		e.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// JournalCount returns the number of journal entries kept.
func (s *Storage) JournalCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transitions").Scan(&count)
	return count, err
}
