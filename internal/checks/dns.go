package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"vigil/internal/storage"
)

// DNSMonitorConfig is the per-monitor DNS configuration stored in
// Monitor.Config.
type DNSMonitorConfig struct {
	// RecordType is one of A, AAAA, CNAME, MX, TXT, NS. Default A.
	RecordType string `json:"record_type,omitempty"`

	// ExpectedValue, when set, must appear among the resolved records.
	ExpectedValue string `json:"expected_value,omitempty"`

	// Resolver is an optional "host:port" DNS server; empty uses the
	// system resolver.
	Resolver string `json:"resolver,omitempty"`
}

// DNSChecker implements DNS resolution checks.
type DNSChecker struct {
	*BaseChecker
}

// NewDNSChecker creates a new DNS checker instance.
func NewDNSChecker() *DNSChecker {
	return &DNSChecker{BaseChecker: NewBaseChecker()}
}

// Types returns the monitor types served by this checker.
func (d *DNSChecker) Types() []string {
	return []string{storage.MonitorTypeDNS}
}

// Check resolves the monitor's target and optionally verifies the answer
// contains an expected value.
func (d *DNSChecker) Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	start := time.Now()

	cfg, err := d.parseConfig(monitor.Config)
	if err != nil {
		return d.FailResult(monitor.ID, fmt.Errorf("invalid config: %w", err), 0, nil), err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(monitor.TimeoutMs)*time.Millisecond)
	defer cancel()

	resolver := net.DefaultResolver
	if cfg.Resolver != "" {
		server := cfg.Resolver
		if !strings.Contains(server, ":") {
			server += ":53"
		}
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, network, server)
			},
		}
	}

	values, err := d.resolve(ctx, resolver, cfg.RecordType, monitor.Target)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		result := d.FailResult(monitor.ID, fmt.Errorf("resolution failed: %w", err), elapsed, nil)
		dnsMs := int(elapsed)
		result.DNSMs = &dnsMs
		return result, err
	}

	if cfg.ExpectedValue != "" && !containsValue(values, cfg.ExpectedValue) {
		failErr := fmt.Errorf("expected content not found in %s records: %s", cfg.RecordType, cfg.ExpectedValue)
		result := d.FailResult(monitor.ID, failErr, elapsed, nil)
		dnsMs := int(elapsed)
		result.DNSMs = &dnsMs
		return result, failErr
	}

	result := d.SuccessResult(monitor.ID, elapsed, nil)
	dnsMs := int(elapsed)
	result.DNSMs = &dnsMs
	return result, nil
}

func (d *DNSChecker) parseConfig(raw string) (*DNSMonitorConfig, error) {
	cfg := &DNSMonitorConfig{RecordType: "A"}
	if raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.RecordType = strings.ToUpper(cfg.RecordType)
	if cfg.RecordType == "" {
		cfg.RecordType = "A"
	}
	switch cfg.RecordType {
	case "A", "AAAA", "CNAME", "MX", "TXT", "NS":
	default:
		return nil, fmt.Errorf("unsupported record type: %s", cfg.RecordType)
	}
	return cfg, nil
}

func (d *DNSChecker) resolve(ctx context.Context, r *net.Resolver, recordType, target string) ([]string, error) {
	switch recordType {
	case "A", "AAAA":
		ips, err := r.LookupIP(ctx, ipNetwork(recordType), target)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(ips))
		for _, ip := range ips {
			values = append(values, ip.String())
		}
		return values, nil

	case "CNAME":
		cname, err := r.LookupCNAME(ctx, target)
		if err != nil {
			return nil, err
		}
		return []string{cname}, nil

	case "MX":
		records, err := r.LookupMX(ctx, target)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(records))
		for _, mx := range records {
			values = append(values, mx.Host)
		}
		return values, nil

	case "TXT":
		return r.LookupTXT(ctx, target)

	case "NS":
		records, err := r.LookupNS(ctx, target)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(records))
		for _, ns := range records {
			values = append(values, ns.Host)
		}
		return values, nil
	}
	return nil, fmt.Errorf("unsupported record type: %s", recordType)
}

func ipNetwork(recordType string) string {
	if recordType == "AAAA" {
		return "ip6"
	}
	return "ip4"
}

func containsValue(values []string, expected string) bool {
	for _, v := range values {
		if strings.Contains(strings.TrimSuffix(v, "."), strings.TrimSuffix(expected, ".")) {
			return true
		}
	}
	return false
}
