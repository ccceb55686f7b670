package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendAction records an enforcement audit row. A row identical in
// peer, kind and note within the same second as the latest one is
// dropped, so a concurrent reconcile and tick cannot double-log one
// transition.
func (s *Store) AppendAction(peerID int64, ts time.Time, kind, note string) error {
	var lastUnix int64
	var lastKind, lastNote string
	err := s.db.QueryRow(
		`SELECT ts_unix, kind, note FROM actions
		 WHERE peer_id = ? ORDER BY ts_unix DESC, id DESC LIMIT 1`, peerID).
		Scan(&lastUnix, &lastKind, &lastNote)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: last action peer %d: %w", peerID, err)
	}
	if err == nil && lastUnix == ts.Unix() && lastKind == kind && lastNote == note {
		return nil
	}

	if _, err := s.db.Exec(
		`INSERT INTO actions (peer_id, ts_unix, kind, note) VALUES (?, ?, ?, ?)`,
		peerID, ts.Unix(), kind, note,
	); err != nil {
		return fmt.Errorf("store: append action peer %d: %w", peerID, err)
	}
	return nil
}

// ListActions returns audit rows newest first. peerID 0 means all
// peers; offset supports pagination.
func (s *Store) ListActions(peerID int64, limit, offset int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, peer_id, ts_unix, kind, note FROM actions`
	args := []any{}
	if peerID != 0 {
		query += ` WHERE peer_id = ?`
		args = append(args, peerID)
	}
	query += ` ORDER BY ts_unix DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.PeerID, &a.Unix, &a.Kind, &a.Note); err != nil {
			return nil, fmt.Errorf("store: scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate actions: %w", err)
	}
	return out, nil
}

// LastActionKind returns the kind of the peer's most recent action, or
// "" if the peer has no history. The quota engine uses it to keep a
// manual disable sticky.
func (s *Store) LastActionKind(peerID int64) (string, error) {
	var kind string
	err := s.db.QueryRow(
		`SELECT kind FROM actions WHERE peer_id = ?
		 ORDER BY ts_unix DESC, id DESC LIMIT 1`, peerID).Scan(&kind)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: last action kind peer %d: %w", peerID, err)
	}
	return kind, nil
}
