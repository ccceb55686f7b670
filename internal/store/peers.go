package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ImportPeer upserts a peer discovered on a router, keyed by
// (router_id, public_key), and returns its id. Live fields and the
// router-side disabled flag are taken from the snapshot; an existing
// row keeps its selection and name if the incoming name is empty.
func (s *Store) ImportPeer(p Peer) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO peers (router_id, iface, name, public_key, allowed_address,
		                    routeros_id, selected, disabled, endpoint,
		                    handshake_age_sec, last_seen_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(router_id, public_key) DO UPDATE SET
		   iface = excluded.iface,
		   name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peers.name END,
		   allowed_address = excluded.allowed_address,
		   routeros_id = excluded.routeros_id,
		   disabled = excluded.disabled,
		   endpoint = excluded.endpoint,
		   handshake_age_sec = excluded.handshake_age_sec,
		   last_seen_unix = excluded.last_seen_unix`,
		p.RouterID, p.Interface, p.Name, p.PublicKey, p.AllowedAddress,
		p.RouterOSID, boolInt(p.Selected), boolInt(p.Disabled), p.Endpoint,
		p.HandshakeAgeSec, p.LastSeenUnix,
	)
	if err != nil {
		return 0, fmt.Errorf("store: import peer %s: %w", p.PublicKey, err)
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM peers WHERE router_id = ? AND public_key = ?`,
		p.RouterID, p.PublicKey).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: lookup imported peer %s: %w", p.PublicKey, err)
	}
	return id, nil
}

// GetPeer returns a single peer by id.
func (s *Store) GetPeer(id int64) (Peer, error) {
	row := s.db.QueryRow(peerSelect+` WHERE id = ?`, id)
	p, err := scanPeer(row)
	if err == sql.ErrNoRows {
		return Peer{}, fmt.Errorf("%w: peer %d", ErrNotFound, id)
	}
	if err != nil {
		return Peer{}, fmt.Errorf("store: get peer %d: %w", id, err)
	}
	return p, nil
}

// ListPeers returns all peers, ordered by id.
func (s *Store) ListPeers() ([]Peer, error) {
	return s.queryPeers(peerSelect + ` ORDER BY id`)
}

// SelectedPeersByRouter returns the peers selected for accounting on one
// router, keyed by public key.
func (s *Store) SelectedPeersByRouter(routerID int64) (map[string]Peer, error) {
	peers, err := s.queryPeers(peerSelect+` WHERE router_id = ? AND selected = 1`, routerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Peer, len(peers))
	for _, p := range peers {
		out[p.PublicKey] = p
	}
	return out, nil
}

// UpdatePeerLive refreshes the per-tick live fields of a peer.
func (s *Store) UpdatePeerLive(id int64, endpoint string, handshakeAgeSec int64, seen time.Time) error {
	_, err := s.db.Exec(
		`UPDATE peers SET endpoint = ?, handshake_age_sec = ?, last_seen_unix = ? WHERE id = ?`,
		endpoint, handshakeAgeSec, seen.Unix(), id)
	if err != nil {
		return fmt.Errorf("store: update peer %d live: %w", id, err)
	}
	return nil
}

// SetPeerDisabled records the enforcement state the router confirmed.
func (s *Store) SetPeerDisabled(id int64, disabled bool) error {
	_, err := s.db.Exec(`UPDATE peers SET disabled = ? WHERE id = ?`, boolInt(disabled), id)
	if err != nil {
		return fmt.Errorf("store: set peer %d disabled: %w", id, err)
	}
	return nil
}

// SetPeerSelected toggles accounting for a peer.
func (s *Store) SetPeerSelected(id int64, selected bool) error {
	_, err := s.db.Exec(`UPDATE peers SET selected = ? WHERE id = ?`, boolInt(selected), id)
	if err != nil {
		return fmt.Errorf("store: set peer %d selected: %w", id, err)
	}
	return nil
}

// RenamePeer sets the display name of a peer.
func (s *Store) RenamePeer(id int64, name string) error {
	_, err := s.db.Exec(`UPDATE peers SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("store: rename peer %d: %w", id, err)
	}
	return nil
}

// DeletePeer removes the peer and cascades its usage, quota and action
// rows.
func (s *Store) DeletePeer(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM usage_samples WHERE peer_id = ?`,
		`DELETE FROM usage_daily WHERE peer_id = ?`,
		`DELETE FROM usage_monthly WHERE peer_id = ?`,
		`DELETE FROM quotas WHERE peer_id = ?`,
		`DELETE FROM actions WHERE peer_id = ?`,
		`DELETE FROM peers WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("store: delete peer %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit peer delete: %w", err)
	}
	return nil
}

const peerSelect = `SELECT id, router_id, iface, name, public_key, allowed_address,
       routeros_id, selected, disabled, endpoint, handshake_age_sec, last_seen_unix
FROM peers`

func scanPeer(row rowScanner) (Peer, error) {
	var p Peer
	var selected, disabled int
	if err := row.Scan(&p.ID, &p.RouterID, &p.Interface, &p.Name, &p.PublicKey,
		&p.AllowedAddress, &p.RouterOSID, &selected, &disabled,
		&p.Endpoint, &p.HandshakeAgeSec, &p.LastSeenUnix); err != nil {
		return Peer{}, err
	}
	p.Selected = selected != 0
	p.Disabled = disabled != 0
	return p, nil
}

func (s *Store) queryPeers(query string, args ...any) ([]Peer, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan peer: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate peers: %w", err)
	}
	return out, nil
}
