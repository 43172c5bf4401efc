package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"vigil/internal/storage"
)

// TLSChecker implements certificate checks for "ssl" monitors: it performs
// a TLS handshake against the target and records leaf certificate details
// for the classifier. A completed handshake with an expired certificate is
// still a successful check; expiry is the classifier's verdict, not the
// checker's.
type TLSChecker struct {
	*BaseChecker
}

// NewTLSChecker creates a new TLS checker instance.
func NewTLSChecker() *TLSChecker {
	return &TLSChecker{BaseChecker: NewBaseChecker()}
}

// Types returns the monitor types served by this checker.
func (c *TLSChecker) Types() []string {
	return []string{storage.MonitorTypeSSL}
}

// Check performs the handshake and captures the peer certificate.
func (c *TLSChecker) Check(ctx context.Context, monitor *storage.Monitor) (*storage.CheckResult, error) {
	start := time.Now()

	target := monitor.Target
	if !strings.Contains(target, ":") {
		target += ":443"
	}
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		confErr := fmt.Errorf("invalid config: target must be host or host:port: %w", err)
		return c.FailResult(monitor.ID, confErr, 0, nil), confErr
	}

	timeout := time.Duration(monitor.TimeoutMs) * time.Millisecond
	dialer := net.Dialer{Timeout: timeout}

	tcpStart := time.Now()
	rawConn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		return c.FailResult(monitor.ID, fmt.Errorf("connect failed: %w", err), elapsed, nil), err
	}
	defer rawConn.Close()
	tcpMs := int(time.Since(tcpStart).Milliseconds())

	// Expiry must remain observable, so chain verification is disabled
	// and the certificate is handed to the classifier as-is.
	tlsStart := time.Now()
	conn := tls.Client(rawConn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	err = conn.HandshakeContext(ctx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return c.FailResult(monitor.ID, fmt.Errorf("tls handshake failed: %w", err), elapsed, nil), err
	}
	tlsMs := int(time.Since(tlsStart).Milliseconds())

	result := c.SuccessResult(monitor.ID, elapsed, nil)
	result.TCPMs = &tcpMs
	result.TLSMs = &tlsMs

	state := conn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		attachCertificate(result, state.PeerCertificates[0])
	}
	return result, nil
}
