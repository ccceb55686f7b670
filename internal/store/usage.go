package store

import (
	"fmt"
	"time"
)

const dayFormat = "2006-01-02"

// CycleStart returns the first day of the billing cycle containing ts,
// anchored to resetDay in loc. resetDay is clamped to 1..28 so every
// month has the anchor date. A cycle runs from the reset day to the day
// before its next occurrence.
func CycleStart(ts time.Time, resetDay int, loc *time.Location) time.Time {
	if resetDay < 1 {
		resetDay = 1
	}
	if resetDay > 28 {
		resetDay = 28
	}
	y, m, d := ts.In(loc).Date()
	if d < resetDay {
		m--
	}
	// time.Date normalises month 0 to December of the previous year.
	return time.Date(y, m, resetDay, 0, 0, 0, 0, loc)
}

// RecordSample appends a raw usage sample and folds its deltas into the
// daily (UTC day) and monthly (billing cycle) buckets in one
// transaction, so a crash cannot leave the rollups out of step with the
// sample log.
func (s *Store) RecordSample(peerID int64, ts time.Time, rxDelta, txDelta int64, resetDay int, loc *time.Location) error {
	if rxDelta < 0 || txDelta < 0 {
		return fmt.Errorf("store: negative delta for peer %d (rx=%d tx=%d)", peerID, rxDelta, txDelta)
	}

	day := ts.UTC().Format(dayFormat)
	cycle := CycleStart(ts, resetDay, loc).Format(dayFormat)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO usage_samples (peer_id, ts_unix, rx_delta, tx_delta) VALUES (?, ?, ?, ?)`,
		peerID, ts.Unix(), rxDelta, txDelta,
	); err != nil {
		return fmt.Errorf("store: insert sample peer %d: %w", peerID, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO usage_daily (peer_id, day, rx, tx) VALUES (?, ?, ?, ?)
		 ON CONFLICT(peer_id, day) DO UPDATE SET
		   rx = rx + excluded.rx, tx = tx + excluded.tx`,
		peerID, day, rxDelta, txDelta,
	); err != nil {
		return fmt.Errorf("store: bump daily peer %d: %w", peerID, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO usage_monthly (peer_id, cycle_start, rx, tx) VALUES (?, ?, ?, ?)
		 ON CONFLICT(peer_id, cycle_start) DO UPDATE SET
		   rx = rx + excluded.rx, tx = tx + excluded.tx`,
		peerID, cycle, rxDelta, txDelta,
	); err != nil {
		return fmt.Errorf("store: bump monthly peer %d: %w", peerID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit sample peer %d: %w", peerID, err)
	}
	return nil
}

// QueryDaily returns up to limitDays most recent daily buckets for the
// peer, oldest first.
func (s *Store) QueryDaily(peerID int64, limitDays int) ([]DailyUsage, error) {
	rows, err := s.db.Query(
		`SELECT day, rx, tx FROM
		   (SELECT day, rx, tx FROM usage_daily WHERE peer_id = ? ORDER BY day DESC LIMIT ?)
		 ORDER BY day`,
		peerID, limitDays)
	if err != nil {
		return nil, fmt.Errorf("store: query daily peer %d: %w", peerID, err)
	}
	defer rows.Close()

	var out []DailyUsage
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Day, &d.Rx, &d.Tx); err != nil {
			return nil, fmt.Errorf("store: scan daily: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate daily: %w", err)
	}
	return out, nil
}

// QueryMonthly returns up to limitMonths most recent cycle buckets for
// the peer, oldest first.
func (s *Store) QueryMonthly(peerID int64, limitMonths int) ([]MonthlyUsage, error) {
	rows, err := s.db.Query(
		`SELECT cycle_start, rx, tx FROM
		   (SELECT cycle_start, rx, tx FROM usage_monthly WHERE peer_id = ? ORDER BY cycle_start DESC LIMIT ?)
		 ORDER BY cycle_start`,
		peerID, limitMonths)
	if err != nil {
		return nil, fmt.Errorf("store: query monthly peer %d: %w", peerID, err)
	}
	defer rows.Close()

	var out []MonthlyUsage
	for rows.Next() {
		var m MonthlyUsage
		if err := rows.Scan(&m.CycleStart, &m.Rx, &m.Tx); err != nil {
			return nil, fmt.Errorf("store: scan monthly: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate monthly: %w", err)
	}
	return out, nil
}

// QueryRaw sums raw samples within the trailing window into fixed-width
// buckets, oldest first. Empty buckets are omitted.
func (s *Store) QueryRaw(peerID int64, window, bucket time.Duration) ([]RawBucket, error) {
	bucketSec := int64(bucket / time.Second)
	if bucketSec <= 0 {
		bucketSec = 1
	}
	since := time.Now().Add(-window).Unix()

	rows, err := s.db.Query(
		`SELECT (ts_unix / ?) * ? AS bucket, SUM(rx_delta), SUM(tx_delta)
		 FROM usage_samples
		 WHERE peer_id = ? AND ts_unix >= ?
		 GROUP BY bucket ORDER BY bucket`,
		bucketSec, bucketSec, peerID, since)
	if err != nil {
		return nil, fmt.Errorf("store: query raw peer %d: %w", peerID, err)
	}
	defer rows.Close()

	var out []RawBucket
	for rows.Next() {
		var b RawBucket
		if err := rows.Scan(&b.Unix, &b.Rx, &b.Tx); err != nil {
			return nil, fmt.Errorf("store: scan raw bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate raw buckets: %w", err)
	}
	return out, nil
}

// CurrentCycleUsage returns the rx/tx totals of the billing cycle
// containing now. Peers with no traffic this cycle report (0, 0).
func (s *Store) CurrentCycleUsage(peerID int64, now time.Time, resetDay int, loc *time.Location) (rx, tx int64, err error) {
	cycle := CycleStart(now, resetDay, loc).Format(dayFormat)
	err = s.db.QueryRow(
		`SELECT COALESCE(SUM(rx), 0), COALESCE(SUM(tx), 0)
		 FROM usage_monthly WHERE peer_id = ? AND cycle_start = ?`,
		peerID, cycle).Scan(&rx, &tx)
	if err != nil {
		return 0, 0, fmt.Errorf("store: cycle usage peer %d: %w", peerID, err)
	}
	return rx, tx, nil
}

// ResetPeerMetrics irreversibly deletes all usage rows for the peer.
// Callers must also drop the peer's in-memory counter baseline so the
// next poll re-baselines with a zero delta.
func (s *Store) ResetPeerMetrics(peerID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM usage_samples WHERE peer_id = ?`,
		`DELETE FROM usage_daily WHERE peer_id = ?`,
		`DELETE FROM usage_monthly WHERE peer_id = ?`,
	} {
		if _, err := tx.Exec(q, peerID); err != nil {
			return fmt.Errorf("store: reset metrics peer %d: %w", peerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit metrics reset: %w", err)
	}
	return nil
}
