package routeros

import (
	"strconv"
	"strings"
)

// parseHandshakeAge converts a RouterOS last-handshake value into seconds.
// The value is either a plain number of seconds or a duration string like
// "1w2d3h4m5s". Returns 0 for empty/never.
func parseHandshakeAge(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	var total, cur int64
	var seen bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int64(r-'0')
			seen = true
		default:
			if !seen {
				continue
			}
			switch r {
			case 'w':
				total += cur * 604800
			case 'd':
				total += cur * 86400
			case 'h':
				total += cur * 3600
			case 'm':
				total += cur * 60
			case 's':
				total += cur
			}
			cur = 0
			seen = false
		}
	}
	return total
}

// parseBool interprets the truthy/falsy spellings RouterOS uses across
// versions and transports.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "on", "enabled":
		return true
	default:
		return false
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// peerFromAttrs builds a PeerSnapshot from the attribute map both adapters
// produce (REST JSON keys and binary API words share the same names).
func peerFromAttrs(attrs map[string]string) PeerSnapshot {
	return PeerSnapshot{
		ID:             attrs[".id"],
		Interface:      attrs["interface"],
		Name:           attrs["name"],
		PublicKey:      attrs["public-key"],
		AllowedAddress: attrs["allowed-address"],
		Disabled:       parseBool(attrs["disabled"]),
		RxBytes:        parseInt64(attrs["rx"]),
		TxBytes:        parseInt64(attrs["tx"]),
		HandshakeAge:   parseHandshakeAge(attrs["last-handshake"]),
		Endpoint:       attrs["current-endpoint-address"],
	}
}

func interfaceFromAttrs(attrs map[string]string) InterfaceInfo {
	return InterfaceInfo{
		Name:       attrs["name"],
		PublicKey:  attrs["public-key"],
		ListenPort: int(parseInt64(attrs["listen-port"])),
	}
}

func boolWord(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
