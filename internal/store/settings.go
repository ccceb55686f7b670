package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// GetSettings returns the runtime settings snapshot, falling back to
// DefaultSettings for keys never written. The poller re-reads this at
// the start of every tick.
func (s *Store) GetSettings() (Settings, error) {
	out := DefaultSettings

	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("store: read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, fmt.Errorf("store: scan setting: %w", err)
		}
		switch key {
		case "poll_interval_sec":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				out.PollIntervalSec = n
			}
		case "online_threshold_sec":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				out.OnlineThresholdSec = n
			}
		case "monthly_reset_day":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 28 {
				out.MonthlyResetDay = n
			}
		case "timezone":
			if value != "" {
				out.Timezone = value
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("store: iterate settings: %w", err)
	}
	return out, nil
}

// PutSettings validates and persists the full settings snapshot.
func (s *Store) PutSettings(set Settings) error {
	if set.PollIntervalSec < 5 {
		return fmt.Errorf("store: poll interval %d below 5s minimum", set.PollIntervalSec)
	}
	if set.OnlineThresholdSec <= 0 {
		return fmt.Errorf("store: online threshold must be positive")
	}
	if set.MonthlyResetDay < 1 || set.MonthlyResetDay > 28 {
		return fmt.Errorf("store: monthly reset day %d outside 1..28", set.MonthlyResetDay)
	}
	if _, err := time.LoadLocation(set.Timezone); err != nil {
		return fmt.Errorf("store: timezone %q: %w", set.Timezone, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for key, value := range map[string]string{
		"poll_interval_sec":    strconv.Itoa(set.PollIntervalSec),
		"online_threshold_sec": strconv.Itoa(set.OnlineThresholdSec),
		"monthly_reset_day":    strconv.Itoa(set.MonthlyResetDay),
		"timezone":             set.Timezone,
	} {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			return fmt.Errorf("store: put setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit settings: %w", err)
	}
	return nil
}

// GetSetting reads one raw settings value. Missing keys return "".
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value, nil
}

// Location resolves the configured timezone, falling back to UTC on a
// bad value rather than failing a poll tick.
func (set Settings) Location() *time.Location {
	loc, err := time.LoadLocation(set.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
