package storage

import (
	"database/sql"
	"errors"
	"time"
)

// SessionRecord is one account connection as seen by the daemon.
type SessionRecord struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	ChainID    uint64    `json:"chainId"`
	StartedAt  time.Time `json:"startedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	EndedAt    time.Time `json:"endedAt,omitzero"`
}

// Open reports whether the session was never ended.
func (r *SessionRecord) Open() bool {
	return r.EndedAt.IsZero()
}

// SaveSession saves or updates a session record.
func (s *Storage) SaveSession(rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sessions (id, account, chain_id, started_at, last_seen_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chain_id = excluded.chain_id,
			last_seen_at = excluded.last_seen_at,
			ended_at = excluded.ended_at
	`

	_, err := s.db.Exec(query,
		rec.ID,
		rec.Account,
		int64(rec.ChainID),
		rec.StartedAt.UnixMilli(),
		rec.LastSeenAt.UnixMilli(),
		timeToUnixOrNull(rec.EndedAt),
	)
	return err
}

// EndSession marks a session as ended. Ending an unknown or already ended
// session is a no-op.
func (s *Storage) EndSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE sessions SET ended_at = ?, last_seen_at = ? WHERE id = ? AND ended_at IS NULL",
		at.UnixMilli(), at.UnixMilli(), id,
	)
	return err
}

// GetSession retrieves a session by ID. Returns nil if not found.
func (s *Storage) GetSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, account, chain_id, started_at, last_seen_at, ended_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// LastSession returns the open session if there is one, otherwise the most
// recently active one, or nil if none was ever recorded. Timestamps have
// millisecond resolution, so an account switch ends one session and starts
// the next at the same instant; rowid orders such ties by insertion.
func (s *Storage) LastSession() (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, account, chain_id, started_at, last_seen_at, ended_at
		FROM sessions
		ORDER BY ended_at IS NULL DESC, last_seen_at DESC, rowid DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// ListSessions returns sessions ordered by last activity (most recent first).
func (s *Storage) ListSessions(limit int) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account, chain_id, started_at, last_seen_at, ended_at
		FROM sessions
		ORDER BY last_seen_at DESC, rowid DESC
	`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var chainID, startedAt, lastSeenAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&rec.ID, &rec.Account, &chainID, &startedAt, &lastSeenAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rec.ChainID = uint64(chainID)
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.LastSeenAt = time.UnixMilli(lastSeenAt)
	rec.EndedAt = nullToTime(endedAt)
	return &rec, nil
}
