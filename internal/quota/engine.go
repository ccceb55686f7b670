// Package quota decides a peer's desired enforcement state from its
// policy and current cycle usage. Evaluate is a pure function with a
// fixed precedence; it has no side effects and reads no clocks.
package quota

import (
	"fmt"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

// Decision is the desired enforcement state for one peer. Kind and Note
// describe the transition the actuator should log if the state has to
// change; they are ignored when the peer is already in the desired
// state.
type Decision struct {
	Disable bool
	Kind    string
	Note    string
}

// Evaluate applies the policy precedence:
//
//  1. a manual disable stays in force until a manual enable,
//  2. the access window has not opened yet,
//  3. the access window has expired,
//  4. the monthly byte limit is reached,
//  5. otherwise the peer is enabled.
//
// lastActionKind is the kind of the peer's most recent audit row ("" if
// none); it carries the manual-disable override and picks the matching
// enable kind when a policy block clears.
func Evaluate(q store.Quota, usedBytes int64, lastActionKind string, now time.Time) Decision {
	if lastActionKind == store.ActionManualDisable {
		return Decision{Disable: true, Kind: store.ActionManualDisable, Note: "manual disable in effect"}
	}

	if q.ValidFromUnix != 0 && now.Unix() < q.ValidFromUnix {
		return Decision{Disable: true, Kind: store.ActionWindowDisable, Note: "not yet active"}
	}
	if q.ValidUntilUnix != 0 && now.Unix() > q.ValidUntilUnix {
		return Decision{Disable: true, Kind: store.ActionWindowDisable, Note: "window expired"}
	}
	if q.MonthlyLimitBytes > 0 && usedBytes >= q.MonthlyLimitBytes {
		return Decision{
			Disable: true,
			Kind:    store.ActionQuotaDisable,
			Note:    fmt.Sprintf("quota exceeded: %s/%s", formatBytes(usedBytes), formatBytes(q.MonthlyLimitBytes)),
		}
	}

	kind := store.ActionQuotaEnable
	note := "within quota"
	if lastActionKind == store.ActionWindowDisable {
		kind = store.ActionWindowEnable
		note = "window active"
	}
	return Decision{Disable: false, Kind: kind, Note: note}
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
