package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateRouter inserts a router profile and returns its id. The password
// is encrypted before storage.
func (s *Store) CreateRouter(r Router) (int64, error) {
	enc, err := s.box.Seal(r.Password)
	if err != nil {
		return 0, fmt.Errorf("store: seal router password: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO routers (name, host, proto, port, username, password_enc, tls_verify)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Host, r.Proto, r.Port, r.Username, enc, boolInt(r.TLSVerify),
	)
	if err != nil {
		return 0, fmt.Errorf("store: create router: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create router id: %w", err)
	}
	return id, nil
}

// UpdateRouter replaces all mutable fields of the router. An empty
// password keeps the stored one.
func (s *Store) UpdateRouter(r Router) error {
	if r.Password != "" {
		enc, err := s.box.Seal(r.Password)
		if err != nil {
			return fmt.Errorf("store: seal router password: %w", err)
		}
		_, err = s.db.Exec(
			`UPDATE routers SET name = ?, host = ?, proto = ?, port = ?,
			        username = ?, password_enc = ?, tls_verify = ?
			 WHERE id = ?`,
			r.Name, r.Host, r.Proto, r.Port, r.Username, enc, boolInt(r.TLSVerify), r.ID,
		)
		if err != nil {
			return fmt.Errorf("store: update router %d: %w", r.ID, err)
		}
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE routers SET name = ?, host = ?, proto = ?, port = ?,
		        username = ?, tls_verify = ?
		 WHERE id = ?`,
		r.Name, r.Host, r.Proto, r.Port, r.Username, boolInt(r.TLSVerify), r.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update router %d: %w", r.ID, err)
	}
	return nil
}

// GetRouter returns one router profile with its password decrypted.
func (s *Store) GetRouter(id int64) (Router, error) {
	row := s.db.QueryRow(
		`SELECT id, name, host, proto, port, username, password_enc, tls_verify, last_poll_unix
		 FROM routers WHERE id = ?`, id)
	r, err := scanRouter(row, s.box)
	if err == sql.ErrNoRows {
		return Router{}, fmt.Errorf("%w: router %d", ErrNotFound, id)
	}
	if err != nil {
		return Router{}, fmt.Errorf("store: get router %d: %w", id, err)
	}
	return r, nil
}

// ListRouters returns all router profiles, passwords decrypted, ordered
// by id.
func (s *Store) ListRouters() ([]Router, error) {
	rows, err := s.db.Query(
		`SELECT id, name, host, proto, port, username, password_enc, tls_verify, last_poll_unix
		 FROM routers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list routers: %w", err)
	}
	defer rows.Close()

	var out []Router
	for rows.Next() {
		r, err := scanRouter(rows, s.box)
		if err != nil {
			return nil, fmt.Errorf("store: scan router: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate routers: %w", err)
	}
	return out, nil
}

// DeleteRouter removes the router and everything attached to it: peers,
// their usage rows, quotas and action history.
func (s *Store) DeleteRouter(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM usage_samples WHERE peer_id IN (SELECT id FROM peers WHERE router_id = ?)`,
		`DELETE FROM usage_daily WHERE peer_id IN (SELECT id FROM peers WHERE router_id = ?)`,
		`DELETE FROM usage_monthly WHERE peer_id IN (SELECT id FROM peers WHERE router_id = ?)`,
		`DELETE FROM quotas WHERE peer_id IN (SELECT id FROM peers WHERE router_id = ?)`,
		`DELETE FROM actions WHERE peer_id IN (SELECT id FROM peers WHERE router_id = ?)`,
		`DELETE FROM peers WHERE router_id = ?`,
		`DELETE FROM routers WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("store: delete router %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit router delete: %w", err)
	}
	return nil
}

// TouchRouterPolled records a successful poll time for the router.
func (s *Store) TouchRouterPolled(id int64, t time.Time) error {
	_, err := s.db.Exec(`UPDATE routers SET last_poll_unix = ? WHERE id = ?`, t.Unix(), id)
	if err != nil {
		return fmt.Errorf("store: touch router %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRouter(row rowScanner, box *secrets.Box) (Router, error) {
	var r Router
	var enc string
	var tlsVerify int
	if err := row.Scan(&r.ID, &r.Name, &r.Host, &r.Proto, &r.Port,
		&r.Username, &enc, &tlsVerify, &r.LastPollUnix); err != nil {
		return Router{}, err
	}
	r.TLSVerify = tlsVerify != 0
	if enc != "" {
		plain, err := box.Open(enc)
		if err != nil {
			return Router{}, fmt.Errorf("open router password: %w", err)
		}
		r.Password = plain
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
