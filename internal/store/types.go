package store

// Router is a persisted RouterOS connection profile. Password is held
// encrypted at rest and transparently decrypted on read.
type Router struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Proto     string `json:"proto"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	TLSVerify bool   `json:"tls_verify"`
	// LastPollUnix is the time of the last successful poll, 0 if never.
	LastPollUnix int64 `json:"last_poll_unix"`
}

// Peer is a WireGuard peer imported for accounting.
type Peer struct {
	ID             int64  `json:"id"`
	RouterID       int64  `json:"router_id"`
	Interface      string `json:"interface"`
	Name           string `json:"name"`
	PublicKey      string `json:"public_key"`
	AllowedAddress string `json:"allowed_address"`
	RouterOSID     string `json:"routeros_id"`
	Selected       bool   `json:"selected"`
	Disabled       bool   `json:"disabled"`

	// Live fields, refreshed on every successful poll.
	Endpoint        string `json:"endpoint"`
	HandshakeAgeSec int64  `json:"handshake_age_sec"`
	LastSeenUnix    int64  `json:"last_seen_unix"`
}

// Quota is the per-peer enforcement policy. Zero values mean "unset":
// no byte limit, no window bound.
type Quota struct {
	PeerID            int64 `json:"peer_id"`
	MonthlyLimitBytes int64 `json:"monthly_limit_bytes"`
	ValidFromUnix     int64 `json:"valid_from_unix"`
	ValidUntilUnix    int64 `json:"valid_until_unix"`
}

// Action is an append-only audit row for an enforcement transition.
type Action struct {
	ID     int64  `json:"id"`
	PeerID int64  `json:"peer_id"`
	Unix   int64  `json:"unix"`
	Kind   string `json:"kind"`
	Note   string `json:"note"`
}

// Action kinds.
const (
	ActionQuotaDisable      = "quota_disable"
	ActionQuotaEnable       = "quota_enable"
	ActionWindowDisable     = "window_disable"
	ActionWindowEnable      = "window_enable"
	ActionManualDisable     = "manual_disable"
	ActionManualEnable      = "manual_enable"
	ActionRouterDisableFail = "router_disable_failed"
	ActionRouterEnableFail  = "router_enable_failed"
)

// DailyUsage is one UTC-day rollup bucket.
type DailyUsage struct {
	Day string `json:"day"` // YYYY-MM-DD
	Rx  int64  `json:"rx"`
	Tx  int64  `json:"tx"`
}

// MonthlyUsage is one billing-cycle rollup bucket, keyed by the cycle
// start date.
type MonthlyUsage struct {
	CycleStart string `json:"cycle_start"` // YYYY-MM-DD
	Rx         int64  `json:"rx"`
	Tx         int64  `json:"tx"`
}

// RawBucket sums raw samples over one fixed-width time bucket.
type RawBucket struct {
	Unix int64 `json:"unix"`
	Rx   int64 `json:"rx"`
	Tx   int64 `json:"tx"`
}

// Settings are the mutable runtime knobs, re-read at each poll tick.
type Settings struct {
	PollIntervalSec    int    `json:"poll_interval_sec"`
	OnlineThresholdSec int    `json:"online_threshold_sec"`
	MonthlyResetDay    int    `json:"monthly_reset_day"`
	Timezone           string `json:"timezone"`
}

// DefaultSettings are applied for keys never written.
var DefaultSettings = Settings{
	PollIntervalSec:    30,
	OnlineThresholdSec: 180,
	MonthlyResetDay:    1,
	Timezone:           "UTC",
}
