package checks

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"vigil/internal/config"
	"vigil/internal/storage"
)

// HTTPMonitorConfig is the per-monitor HTTP configuration stored in
// Monitor.Config.
type HTTPMonitorConfig struct {
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	ExpectedStatus  int               `json:"expected_status,omitempty"`
	ExpectedContent string            `json:"expected_content,omitempty"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty"`
	VerifySSL       *bool             `json:"verify_ssl,omitempty"`
}

// phaseTimings collects per-phase durations observed via httptrace.
type phaseTimings struct {
	start        time.Time
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	firstByte    time.Time
}

// HTTPChecker implements HTTP and HTTPS monitoring checks with per-phase
// timing breakdown and certificate capture on TLS targets.
type HTTPChecker struct {
	*BaseChecker
	defaults config.HTTPDefaultsConfig
}

// NewHTTPChecker creates a new HTTP checker instance.
func NewHTTPChecker(cfg *config.Config) *HTTPChecker {
	return &HTTPChecker{
		BaseChecker: NewBaseChecker(),
		defaults:    cfg.Checks.HTTP,
	}
}

// Types returns the monitor types served by this checker.
func (h *HTTPChecker) Types() []string {
	return []string{storage.MonitorTypeHTTP, storage.MonitorTypeHTTPS}
}

// Check executes an HTTP or HTTPS monitoring check.
func (h *HTTPChecker) Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	start := time.Now()

	cfg, err := h.parseConfig(monitor.Config)
	if err != nil {
		return h.FailResult(monitor.ID, fmt.Errorf("invalid config: %w", err), 0, nil), err
	}

	timeout := time.Duration(monitor.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timings := &phaseTimings{start: start}
	var peerCert *x509.Certificate

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.VerifySSL != nil && !*cfg.VerifySSL,
		},
		DisableKeepAlives: true,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if cfg.FollowRedirects != nil && !*cfg.FollowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	req, err := h.createRequest(ctx, monitor.Target, cfg, timings, &peerCert)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		return h.FailResult(monitor.ID, fmt.Errorf("failed to create request: %w", err), elapsed, nil), err
	}

	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		result := h.FailResult(monitor.ID, fmt.Errorf("request failed: %w", err), elapsed, nil)
		timings.apply(result, time.Now())
		attachCertificate(result, peerCert)
		return result, err
	}
	defer resp.Body.Close()

	result := h.validateResponse(monitor.ID, resp, cfg, elapsed)
	timings.apply(result, time.Now())
	attachCertificate(result, peerCert)
	return result, nil
}

func (h *HTTPChecker) parseConfig(raw string) (*HTTPMonitorConfig, error) {
	cfg := &HTTPMonitorConfig{
		Method:         h.defaults.Method,
		Headers:        make(map[string]string),
		Body:           h.defaults.Body,
		ExpectedStatus: h.defaults.ExpectedStatus,
	}
	for k, v := range h.defaults.Headers {
		cfg.Headers[k] = v
	}

	if raw != "" && raw != "{}" {
		var override HTTPMonitorConfig
		if err := json.Unmarshal([]byte(raw), &override); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if override.Method != "" {
			cfg.Method = strings.ToUpper(override.Method)
		}
		if override.Body != "" {
			cfg.Body = override.Body
		}
		if override.ExpectedStatus != 0 {
			cfg.ExpectedStatus = override.ExpectedStatus
		}
		if override.ExpectedContent != "" {
			cfg.ExpectedContent = override.ExpectedContent
		}
		cfg.FollowRedirects = override.FollowRedirects
		cfg.VerifySSL = override.VerifySSL
		for k, v := range override.Headers {
			cfg.Headers[k] = v
		}
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.ExpectedStatus == 0 {
		cfg.ExpectedStatus = http.StatusOK
	}

	switch cfg.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions, http.MethodPatch:
	default:
		return nil, fmt.Errorf("invalid HTTP method: %s", cfg.Method)
	}
	if cfg.ExpectedStatus < 100 || cfg.ExpectedStatus > 599 {
		return nil, fmt.Errorf("invalid expected status code: %d", cfg.ExpectedStatus)
	}

	return cfg, nil
}

func (h *HTTPChecker) createRequest(ctx context.Context, target string, cfg *HTTPMonitorConfig, timings *phaseTimings, peerCert **x509.Certificate) (*http.Request, error) {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	trace := &httptrace.ClientTrace{
		DNSStart:     func(httptrace.DNSStartInfo) { timings.dnsStart = time.Now() },
		DNSDone:      func(httptrace.DNSDoneInfo) { timings.dnsDone = time.Now() },
		ConnectStart: func(string, string) { timings.connectStart = time.Now() },
		ConnectDone:  func(string, string, error) { timings.connectDone = time.Now() },
		TLSHandshakeStart: func() {
			timings.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			timings.tlsDone = time.Now()
			if err == nil && len(state.PeerCertificates) > 0 {
				*peerCert = state.PeerCertificates[0]
			}
		},
		GotFirstResponseByte: func() { timings.firstByte = time.Now() },
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, body)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Vigil-Monitor/1.0")
	}
	return req, nil
}

func (h *HTTPChecker) validateResponse(monitorID string, resp *http.Response, cfg *HTTPMonitorConfig, elapsed int64) *storage.CheckResult {
	statusCode := resp.StatusCode

	if resp.StatusCode != cfg.ExpectedStatus {
		err := fmt.Errorf("unexpected status code: got %d, expected %d", resp.StatusCode, cfg.ExpectedStatus)
		return h.FailResult(monitorID, err, elapsed, &statusCode)
	}

	if cfg.ExpectedContent != "" {
		body := make([]byte, 4096)
		n, _ := io.ReadFull(resp.Body, body)
		if !strings.Contains(string(body[:n]), cfg.ExpectedContent) {
			err := fmt.Errorf("expected content not found: %s", cfg.ExpectedContent)
			return h.FailResult(monitorID, err, elapsed, &statusCode)
		}
	}

	return h.SuccessResult(monitorID, elapsed, &statusCode)
}

// apply copies observed phase durations onto a result. Phases that never
// ran stay nil.
func (t *phaseTimings) apply(result *storage.CheckResult, end time.Time) {
	ms := func(from, to time.Time) *int {
		if from.IsZero() || to.IsZero() || to.Before(from) {
			return nil
		}
		v := int(to.Sub(from).Milliseconds())
		return &v
	}

	result.DNSMs = ms(t.dnsStart, t.dnsDone)
	result.TCPMs = ms(t.connectStart, t.connectDone)
	result.TLSMs = ms(t.tlsStart, t.tlsDone)
	result.TTFBMs = ms(t.start, t.firstByte)
	result.TransferMs = ms(t.firstByte, end)
}

// attachCertificate records leaf certificate details on the result.
func attachCertificate(result *storage.CheckResult, cert *x509.Certificate) {
	if cert == nil {
		return
	}

	issuer := cert.Issuer.String()
	subject := cert.Subject.String()
	validFrom := cert.NotBefore
	validTo := cert.NotAfter
	days := int(time.Until(cert.NotAfter).Hours() / 24)
	serial := cert.SerialNumber.String()
	sum := sha256.Sum256(cert.Raw)
	fingerprint := hex.EncodeToString(sum[:])

	result.CertIssuer = &issuer
	result.CertSubject = &subject
	result.CertValidFrom = &validFrom
	result.CertValidTo = &validTo
	result.CertDaysUntilExpiry = &days
	result.CertSerial = &serial
	result.CertFingerprint = &fingerprint
}
