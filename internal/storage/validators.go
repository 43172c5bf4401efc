// Package storage provides validation functions for database entities.
package storage

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var validMonitorTypes = map[string]bool{
	MonitorTypeHTTP:             true,
	MonitorTypeHTTPS:            true,
	MonitorTypeDNS:              true,
	MonitorTypeSSL:              true,
	MonitorTypeTCP:              true,
	MonitorTypePing:             true,
	MonitorTypeHeartbeat:        true,
	MonitorTypeGRPC:             true,
	MonitorTypeWebsocket:        true,
	MonitorTypeSMTP:             true,
	MonitorTypeIMAP:             true,
	MonitorTypePOP3:             true,
	MonitorTypeEmailAuth:        true,
	MonitorTypeSSH:              true,
	MonitorTypeLDAP:             true,
	MonitorTypeRDP:              true,
	MonitorTypeMQTT:             true,
	MonitorTypeAMQP:             true,
	MonitorTypeTraceroute:       true,
	MonitorTypeDatabasePostgres: true,
	MonitorTypeDatabaseMySQL:    true,
	MonitorTypeDatabaseRedis:    true,
	MonitorTypeDatabaseMongo:    true,
}

// IsValidMonitorType reports whether t is a recognized monitor type.
func IsValidMonitorType(t string) bool {
	return validMonitorTypes[t]
}

// ValidateMonitor validates a complete Monitor entity before database
// operations and fills in defaults for optional fields.
func ValidateMonitor(m *Monitor) error {
	if m.Name == "" {
		return fmt.Errorf("monitor name cannot be empty")
	}

	if len(m.Name) > 100 {
		return fmt.Errorf("monitor name too long (max 100 chars)")
	}

	if !IsValidMonitorType(m.Type) {
		return fmt.Errorf("unsupported monitor type: %s", m.Type)
	}

	if m.Type != MonitorTypeHeartbeat {
		if m.Target == "" {
			return fmt.Errorf("monitor target cannot be empty")
		}
		if err := validateMonitorTarget(m.Type, m.Target); err != nil {
			return fmt.Errorf("invalid target: %w", err)
		}
	}

	if m.IntervalSeconds < 5 {
		return fmt.Errorf("monitor interval too short (minimum 5 seconds)")
	}

	if m.IntervalSeconds > 86400 {
		return fmt.Errorf("monitor interval too long (maximum 24 hours)")
	}

	if m.TimeoutMs < 100 {
		return fmt.Errorf("monitor timeout too short (minimum 100 ms)")
	}

	if m.TimeoutMs > 300000 {
		return fmt.Errorf("monitor timeout too long (maximum 5 minutes)")
	}

	// Hysteresis counts default to 1 (no smoothing) and are capped at 10.
	if m.DegradedAfterCount == 0 {
		m.DegradedAfterCount = 1
	}
	if m.DownAfterCount == 0 {
		m.DownAfterCount = 1
	}
	if m.DegradedAfterCount < 1 || m.DegradedAfterCount > 10 {
		return fmt.Errorf("degraded_after_count must be between 1 and 10")
	}
	if m.DownAfterCount < 1 || m.DownAfterCount > 10 {
		return fmt.Errorf("down_after_count must be between 1 and 10")
	}

	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", m.Timezone, err)
		}
	}

	// Heartbeat monitors get an ingestion token on first validation.
	if m.Type == MonitorTypeHeartbeat {
		if m.HeartbeatToken == nil || *m.HeartbeatToken == "" {
			token := uuid.NewString()
			m.HeartbeatToken = &token
		}
		if m.HeartbeatGraceSeconds < 0 {
			return fmt.Errorf("heartbeat grace period cannot be negative")
		}
	} else if m.HeartbeatToken != nil {
		return fmt.Errorf("heartbeat token is only valid for heartbeat monitors")
	}

	for _, field := range []string{m.Regions, m.DependsOn} {
		if field != "" && !json.Valid([]byte(field)) {
			return fmt.Errorf("regions and depends_on must be JSON arrays")
		}
	}

	if m.Status == "" {
		m.Status = MonitorStatusPending
	}

	return nil
}

// validateMonitorTarget validates the target format for a given monitor type.
func validateMonitorTarget(monitorType, target string) error {
	switch monitorType {
	case MonitorTypeHTTP, MonitorTypeHTTPS, MonitorTypeWebsocket:
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("malformed URL: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("URL must include scheme and host")
		}
		return nil
	case MonitorTypeTCP, MonitorTypeSMTP, MonitorTypeIMAP, MonitorTypePOP3,
		MonitorTypeSSH, MonitorTypeLDAP, MonitorTypeRDP, MonitorTypeMQTT, MonitorTypeAMQP:
		if _, _, err := net.SplitHostPort(target); err != nil {
			return fmt.Errorf("target must be host:port: %w", err)
		}
		return nil
	default:
		// Host-style targets: dns, ssl, ping, email_auth, traceroute,
		// database DSNs. Reject obviously broken values only.
		if strings.ContainsAny(target, " \t\n") {
			return fmt.Errorf("target contains whitespace")
		}
		return nil
	}
}

// DecodeStringList decodes a JSON-encoded string list column. An empty
// column decodes to nil.
func DecodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("malformed string list: %w", err)
	}
	return out, nil
}

// EncodeStringList encodes a string list for storage in a JSON column.
// Nil and empty lists encode to the empty string.
func EncodeStringList(values []string) string {
	if len(values) == 0 {
		return ""
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(raw)
}
