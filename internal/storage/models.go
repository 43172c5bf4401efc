// Package storage defines the data models for the Vigil monitoring platform.
//
// Models are GORM entities persisted to SQLite (development) or PostgreSQL
// (production). Nullable columns use pointer fields so that "absent" stays
// distinct from the zero value: a recorded zero-millisecond phase timing is
// not the same as a phase that never ran.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// MonitorType constants define the supported monitor types.
const (
	MonitorTypeHTTP       = "http"
	MonitorTypeHTTPS      = "https"
	MonitorTypeDNS        = "dns"
	MonitorTypeSSL        = "ssl"
	MonitorTypeTCP        = "tcp"
	MonitorTypePing       = "ping"
	MonitorTypeHeartbeat  = "heartbeat"
	MonitorTypeGRPC       = "grpc"
	MonitorTypeWebsocket  = "websocket"
	MonitorTypeSMTP       = "smtp"
	MonitorTypeIMAP       = "imap"
	MonitorTypePOP3       = "pop3"
	MonitorTypeEmailAuth  = "email_auth"
	MonitorTypeSSH        = "ssh"
	MonitorTypeLDAP       = "ldap"
	MonitorTypeRDP        = "rdp"
	MonitorTypeMQTT       = "mqtt"
	MonitorTypeAMQP       = "amqp"
	MonitorTypeTraceroute = "traceroute"

	// Database monitor types share the "database_" prefix.
	MonitorTypeDatabasePostgres = "database_postgres"
	MonitorTypeDatabaseMySQL    = "database_mysql"
	MonitorTypeDatabaseRedis    = "database_redis"
	MonitorTypeDatabaseMongo    = "database_mongodb"
)

// MonitorStatus constants define the externally visible monitor statuses.
const (
	MonitorStatusPending  = "pending"
	MonitorStatusActive   = "active"
	MonitorStatusDegraded = "degraded"
	MonitorStatusDown     = "down"
	MonitorStatusPaused   = "paused"
)

// RawStatus constants define raw check outcome classes.
const (
	RawStatusSuccess  = "success"
	RawStatusDegraded = "degraded"
	RawStatusFailure  = "failure"
	RawStatusError    = "error"
)

// ProbeJobStatus constants define the lease lifecycle of a probe job.
const (
	JobStatusPending   = "pending"
	JobStatusClaimed   = "claimed"
	JobStatusCompleted = "completed"
	JobStatusCanceled  = "canceled"
)

// AlertHistoryStatus constants define alert history entry kinds.
const (
	AlertStatusTriggered = "triggered"
	AlertStatusResolved  = "resolved"
)

// Organization is the multi-tenancy anchor. Monitors, probes, policies and
// deployment events all belong to exactly one organization.
type Organization struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Monitor represents a configured, periodically-checked target.
//
// Hysteresis smoothing is controlled by DegradedAfterCount and DownAfterCount:
// the externally visible status only flips after that many consecutive
// non-healthy raw outcomes. Both default to 1 (no smoothing) and are
// constrained to [1,10].
type Monitor struct {
	ID    string `gorm:"primaryKey;size:36" json:"id"`
	OrgID string `gorm:"index;not null;size:36" json:"org_id"`
	Name  string `gorm:"not null" json:"name"`

	// Type is one of the MonitorType constants.
	Type string `gorm:"not null;index" json:"type"`

	// Target is the URL or host being checked.
	Target string `gorm:"not null" json:"target"`

	IntervalSeconds int `gorm:"not null" json:"interval_seconds"`
	TimeoutMs       int `gorm:"not null" json:"timeout_ms"`

	// Regions is a JSON-encoded list of probe region tags. Empty means the
	// monitor is executed locally by the scheduler.
	Regions string `json:"regions"`

	// DegradedThresholdMs marks a success as "degraded" when its latency
	// exceeds this value. Zero disables latency-based degradation.
	DegradedThresholdMs int `json:"degraded_threshold_ms"`

	DegradedAfterCount int `gorm:"not null;default:1" json:"degraded_after_count"`
	DownAfterCount     int `gorm:"not null;default:1" json:"down_after_count"`

	// Status is one of the MonitorStatus constants. Mutated only by the
	// status engine and by explicit pause/resume.
	Status string `gorm:"not null;default:pending;index" json:"status"`

	// HeartbeatToken is present only for heartbeat monitors; it is the
	// public ingestion token for POST /heartbeat/:token.
	HeartbeatToken        *string `gorm:"uniqueIndex;size:36" json:"heartbeat_token,omitempty"`
	HeartbeatGraceSeconds int     `json:"heartbeat_grace_seconds"`

	// Timezone is an IANA zone name used by the daily aggregator.
	// Empty means UTC.
	Timezone string `json:"timezone"`

	// DependsOn is a JSON-encoded list of monitor ids. Informational only;
	// it never blocks checks.
	DependsOn string `json:"depends_on"`

	// Config carries type-specific settings as JSON, validated at the
	// boundary before a monitor enters the engine.
	Config string `json:"config"`

	// Hysteresis counters, owned by the status engine. Counted since the
	// last status-affecting transition.
	ConsecutiveFailures int `gorm:"not null;default:0" json:"-"`
	ConsecutiveDegraded int `gorm:"not null;default:0" json:"-"`

	// LastProcessedAt is the timestamp of the newest result fed through the
	// state machine; older results beyond tolerance are excluded from
	// status computation.
	LastProcessedAt *time.Time `json:"-"`

	// LastTransitionAt is when Status last changed. Source for
	// degraded-duration alert conditions.
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty"`

	// LastHeartbeatAt is the newest heartbeat ping (heartbeat type only).
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	// NextDueAt is the persisted schedule record polled by the worker pool.
	NextDueAt *time.Time `gorm:"index" json:"next_due_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// CheckResult is the immutable record of a single check outcome.
//
// Produced by the local scheduler or a remote probe, owned by the result
// store, consumed read-only by every other component.
type CheckResult struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID string `gorm:"index:idx_results_monitor_time;not null;size:36" json:"monitor_id"`
	Region    string `json:"region"`

	// RawStatus is one of the RawStatus constants.
	RawStatus string `gorm:"not null" json:"raw_status"`

	ResponseTimeMs int  `json:"response_time_ms"`
	StatusCode     *int `json:"status_code,omitempty"`

	// Per-phase timings. Nil means the phase was not measured; zero is a
	// valid recorded value.
	DNSMs      *int `json:"dns_ms,omitempty"`
	TCPMs      *int `json:"tcp_ms,omitempty"`
	TLSMs      *int `json:"tls_ms,omitempty"`
	TTFBMs     *int `json:"ttfb_ms,omitempty"`
	TransferMs *int `json:"transfer_ms,omitempty"`

	// Certificate details for tls/https/smtp targets.
	CertIssuer          *string    `json:"cert_issuer,omitempty"`
	CertSubject         *string    `json:"cert_subject,omitempty"`
	CertValidFrom       *time.Time `json:"cert_valid_from,omitempty"`
	CertValidTo         *time.Time `json:"cert_valid_to,omitempty"`
	CertDaysUntilExpiry *int       `json:"cert_days_until_expiry,omitempty"`
	CertSerial          *string    `json:"cert_serial,omitempty"`
	CertFingerprint     *string    `json:"cert_fingerprint,omitempty"`

	// Email authentication sub-statuses for email_auth monitors.
	SPFStatus      *string `json:"spf_status,omitempty"`
	DKIMStatus     *string `json:"dkim_status,omitempty"`
	DMARCStatus    *string `json:"dmarc_status,omitempty"`
	EmailAuthScore *int    `json:"email_auth_score,omitempty"`

	// IncidentID is a back-reference set post hoc by incident bookkeeping.
	IncidentID *string `gorm:"size:36" json:"incident_id,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	// Metadata is a type-specific free-form JSON payload.
	Metadata string `json:"metadata,omitempty"`

	// CheckedAt is when the check was executed (probe-side clock for remote
	// checks), distinct from CreatedAt which is ingestion time.
	CheckedAt time.Time `gorm:"index:idx_results_monitor_time;not null" json:"checked_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CTScanResult records one certificate-transparency scan for a monitor.
type CTScanResult struct {
	ID                     int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID              string  `gorm:"index;not null;size:36" json:"monitor_id"`
	NewCertificates        int     `json:"new_certificates"`
	UnexpectedCertificates int     `json:"unexpected_certificates"`
	Succeeded              bool    `json:"succeeded"`
	Error                  *string `json:"error,omitempty"`

	ScannedAt time.Time `gorm:"index" json:"scanned_at"`
}

// Probe represents a remote agent that executes checks on behalf of the
// coordinator. The auth token is stored hashed; the plaintext is returned
// exactly once at registration.
type Probe struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	OrgID  string `gorm:"index;not null;size:36" json:"org_id"`
	Name   string `gorm:"not null" json:"name"`
	Region string `gorm:"index;not null" json:"region"`

	// TokenHash is the hex-encoded SHA-256 of the probe auth token.
	TokenHash string `gorm:"uniqueIndex;not null;size:64" json:"-"`

	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	Active          bool       `gorm:"not null;default:true" json:"active"`

	// Metrics is the most recent metrics/metadata payload reported by the
	// probe, stored as JSON.
	Metrics string `json:"metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ProbeAssignment binds a monitor to a probe. Exclusive assignments restrict
// claiming to the assigned probe; non-exclusive assignments express ordering
// preference only (lower priority number wins).
type ProbeAssignment struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ProbeID   string `gorm:"index;not null;size:36;uniqueIndex:idx_assignment_pair" json:"probe_id"`
	MonitorID string `gorm:"index;not null;size:36;uniqueIndex:idx_assignment_pair" json:"monitor_id"`
	Priority  int    `gorm:"not null;default:100" json:"priority"`
	Exclusive bool   `gorm:"not null;default:false" json:"exclusive"`

	CreatedAt time.Time `json:"created_at"`
}

// ProbeJob is an ephemeral lease on one due check execution.
//
/// Invariant: at most one unexpired claim exists per job. Claims are taken
// with a single guarded UPDATE; expired leases become claimable again by any
// probe serving a compatible region.
type ProbeJob struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	MonitorID string `gorm:"index;not null;size:36" json:"monitor_id"`
	Region    string `gorm:"index;not null" json:"region"`

	// ProbeID is nil until the job is claimed.
	ProbeID *string `gorm:"size:36" json:"probe_id,omitempty"`

	// TargetSnapshot freezes the monitor's target, type and timeout at
	// materialization time, stored as JSON.
	TargetSnapshot string `gorm:"not null" json:"target_snapshot"`

	Status    string     `gorm:"not null;default:pending;index:idx_jobs_status_region" json:"status"`
	LeasedAt  *time.Time `json:"leased_at,omitempty"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AlertChannel is a notification destination referenced by policies.
// Delivery mechanics live outside this engine; the evaluator only needs
// identity and the enabled flag.
type AlertChannel struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	OrgID   string `gorm:"index;not null;size:36" json:"org_id"`
	Type    string `gorm:"not null" json:"type"`
	Name    string `json:"name"`
	Enabled bool   `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
}

// AlertPolicy configures when and where alerts fire.
//
// Exactly one condition field group is set; ValidatePolicyCondition rejects
// anything else at creation time so the evaluator only ever sees the closed
// condition set. A policy with no condition never fires.
type AlertPolicy struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	OrgID   string `gorm:"index;not null;size:36" json:"org_id"`
	Name    string `gorm:"not null" json:"name"`
	Enabled bool   `gorm:"not null;default:true" json:"enabled"`

	// Channels is a JSON-encoded ordered list of channel ids.
	Channels string `json:"channels"`

	// Monitors is a JSON-encoded list of monitor ids the policy applies to.
	// Empty means all monitors in the organization.
	Monitors string `json:"monitors"`

	// Condition is the JSON-encoded tagged union (see alerting.Condition).
	Condition string `json:"condition"`

	CooldownMinutes int `gorm:"not null;default:0" json:"cooldown_minutes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertHistory is both the audit log of fired alerts and the cooldown
// lookback source.
type AlertHistory struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PolicyID  string `gorm:"index:idx_alert_history_pair;not null;size:36" json:"policy_id"`
	MonitorID string `gorm:"index:idx_alert_history_pair;not null;size:36" json:"monitor_id"`

	// Status is triggered or resolved.
	Status string `gorm:"not null" json:"status"`
	Reason string `json:"reason"`

	TriggeredAt time.Time `gorm:"index" json:"triggered_at"`
}

// StatusTransition records one externally visible monitor status change.
// Exposed as a domain event stream to the alert evaluator, incident
// auto-creation and public status pages.
type StatusTransition struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID  string `gorm:"index:idx_transitions_monitor_time;not null;size:36" json:"monitor_id"`
	FromStatus string `gorm:"not null" json:"from_status"`
	ToStatus   string `gorm:"not null" json:"to_status"`

	At time.Time `gorm:"index:idx_transitions_monitor_time;not null" json:"at"`
}

// DailyAggregate is the precomputed per-monitor daily rollup consumed by
// analytics and public uptime displays.
//
// UptimePercentage is derived: (success+degraded)/total*100, nil when the
// day has no results. The row is replaced wholesale on every rollup so
// recomputation is idempotent.
type DailyAggregate struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID string `gorm:"uniqueIndex:idx_aggregate_day;not null;size:36" json:"monitor_id"`

	// Date is the day key in YYYY-MM-DD form, in the monitor's timezone.
	Date string `gorm:"uniqueIndex:idx_aggregate_day;not null;size:10" json:"date"`

	SuccessCount  int `gorm:"not null" json:"success_count"`
	DegradedCount int `gorm:"not null" json:"degraded_count"`
	FailureCount  int `gorm:"not null" json:"failure_count"`
	TotalCount    int `gorm:"not null" json:"total_count"`

	UptimePercentage *float64 `json:"uptime_percentage"`

	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P50ResponseTimeMs int     `json:"p50_response_time_ms"`
	P95ResponseTimeMs int     `json:"p95_response_time_ms"`
	P99ResponseTimeMs int     `json:"p99_response_time_ms"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentEvent is a recorded deployment used by the correlation window
// query. No state machine hangs off it.
type DeploymentEvent struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	OrgID     string  `gorm:"index;not null;size:36" json:"org_id"`
	MonitorID *string `gorm:"size:36" json:"monitor_id,omitempty"`
	Service   string  `gorm:"not null" json:"service"`
	Version   string  `json:"version"`

	DeployedAt time.Time `gorm:"index" json:"deployed_at"`
}

// TableName overrides keep table naming stable regardless of GORM's
// pluralization rules.

func (*Organization) TableName() string     { return "organizations" }
func (*Monitor) TableName() string          { return "monitors" }
func (*CheckResult) TableName() string      { return "check_results" }
func (*CTScanResult) TableName() string     { return "ct_scan_results" }
func (*Probe) TableName() string            { return "probes" }
func (*ProbeAssignment) TableName() string  { return "probe_assignments" }
func (*ProbeJob) TableName() string         { return "probe_jobs" }
func (*AlertChannel) TableName() string     { return "alert_channels" }
func (*AlertPolicy) TableName() string      { return "alert_policies" }
func (*AlertHistory) TableName() string     { return "alert_history" }
func (*StatusTransition) TableName() string { return "status_transitions" }
func (*DailyAggregate) TableName() string   { return "daily_aggregates" }
func (*DeploymentEvent) TableName() string  { return "deployment_events" }
