package store

import (
	"database/sql"
	"fmt"
)

// GetQuota returns the peer's policy. A peer without a quota row gets
// the zero policy (unlimited, open-ended window).
func (s *Store) GetQuota(peerID int64) (Quota, error) {
	q := Quota{PeerID: peerID}
	err := s.db.QueryRow(
		`SELECT monthly_limit_bytes, valid_from_unix, valid_until_unix
		 FROM quotas WHERE peer_id = ?`, peerID).
		Scan(&q.MonthlyLimitBytes, &q.ValidFromUnix, &q.ValidUntilUnix)
	if err == sql.ErrNoRows {
		return q, nil
	}
	if err != nil {
		return Quota{}, fmt.Errorf("store: get quota peer %d: %w", peerID, err)
	}
	return q, nil
}

// SetQuota upserts the peer's policy. It is read afresh on every
// evaluation, so edits take effect on the next decision.
func (s *Store) SetQuota(q Quota) error {
	_, err := s.db.Exec(
		`INSERT INTO quotas (peer_id, monthly_limit_bytes, valid_from_unix, valid_until_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
		   monthly_limit_bytes = excluded.monthly_limit_bytes,
		   valid_from_unix = excluded.valid_from_unix,
		   valid_until_unix = excluded.valid_until_unix`,
		q.PeerID, q.MonthlyLimitBytes, q.ValidFromUnix, q.ValidUntilUnix)
	if err != nil {
		return fmt.Errorf("store: set quota peer %d: %w", q.PeerID, err)
	}
	return nil
}
