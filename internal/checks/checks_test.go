package checks

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
	"vigil/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Checks: config.ChecksConfig{
			HTTP: config.HTTPDefaultsConfig{
				Method:         "GET",
				ExpectedStatus: 200,
			},
			Ping: config.PingDefaultsConfig{
				Count:          3,
				TimeoutSeconds: 5,
			},
		},
	}
}

func httpMonitor(target string) *storage.Monitor {
	return &storage.Monitor{
		ID:        "m-1",
		Type:      storage.MonitorTypeHTTP,
		Target:    target,
		TimeoutMs: 5000,
	}
}

func TestHTTPCheckSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	checker := NewHTTPChecker(testConfig())
	result, err := checker.Check(context.Background(), httpMonitor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, storage.RawStatusSuccess, result.RawStatus)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 200, *result.StatusCode)
	require.NotNil(t, result.TTFBMs, "time to first byte is always measured")
}

func TestHTTPCheckUnexpectedStatusIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	checker := NewHTTPChecker(testConfig())
	result, err := checker.Check(context.Background(), httpMonitor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, storage.RawStatusFailure, result.RawStatus)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "unexpected status code")
}

func TestHTTPCheckExpectedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	m := httpMonitor(server.URL)
	m.Config = `{"expected_content": "\"status\":\"ok\""}`

	checker := NewHTTPChecker(testConfig())
	result, err := checker.Check(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, storage.RawStatusSuccess, result.RawStatus)

	m.Config = `{"expected_content": "healthy"}`
	result, err = checker.Check(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, storage.RawStatusFailure, result.RawStatus)
}

func TestHTTPCheckConnectionRefusedIsFailure(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := "http://" + l.Addr().String()
	require.NoError(t, l.Close())

	checker := NewHTTPChecker(testConfig())
	result, checkErr := checker.Check(context.Background(), httpMonitor(target))
	require.Error(t, checkErr)
	assert.Equal(t, storage.RawStatusFailure, result.RawStatus)
}

func TestHTTPParseConfigRejectsBadMethod(t *testing.T) {
	checker := NewHTTPChecker(testConfig())

	m := httpMonitor("http://example.com")
	m.Config = `{"method": "FETCH"}`

	result, err := checker.Check(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, storage.RawStatusError, result.RawStatus)
}

func TestTCPCheckAgainstListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	checker := NewTCPChecker()
	m := &storage.Monitor{
		ID:        "m-tcp",
		Type:      storage.MonitorTypeTCP,
		Target:    l.Addr().String(),
		TimeoutMs: 2000,
	}

	result, err := checker.Check(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, storage.RawStatusSuccess, result.RawStatus)
	require.NotNil(t, result.TCPMs)
}

func TestTCPCheckRejectsBareHost(t *testing.T) {
	checker := NewTCPChecker()
	m := &storage.Monitor{ID: "m", Type: storage.MonitorTypeTCP, Target: "example.com", TimeoutMs: 1000}

	result, err := checker.Check(context.Background(), m)
	require.Error(t, err)
	assert.Equal(t, storage.RawStatusError, result.RawStatus)
}

func TestManagerDowngradesSlowSuccessToDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	manager := NewManager(testConfig())

	m := httpMonitor(server.URL)
	m.DegradedThresholdMs = 1 // any real round trip exceeds this

	result, err := manager.Execute(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, storage.RawStatusDegraded, result.RawStatus)
}

func TestManagerRejectsUnsupportedType(t *testing.T) {
	manager := NewManager(testConfig())

	m := &storage.Monitor{ID: "m", Type: storage.MonitorTypeHeartbeat, Target: "t"}
	_, err := manager.Execute(context.Background(), m)
	assert.True(t, errors.Is(err, ErrUnsupportedType))

	assert.False(t, manager.Supports(storage.MonitorTypeHeartbeat))
	assert.True(t, manager.Supports(storage.MonitorTypeHTTPS))
}

func TestClassifyError(t *testing.T) {
	b := NewBaseChecker()

	assert.Equal(t, storage.RawStatusFailure, b.ClassifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, storage.RawStatusFailure, b.ClassifyError(errors.New("context deadline exceeded")))
	assert.Equal(t, storage.RawStatusFailure, b.ClassifyError(errors.New("unexpected status code: got 503, expected 200")))
	assert.Equal(t, storage.RawStatusError, b.ClassifyError(errors.New("invalid config: bad method")))
}

func TestParsePingOutput(t *testing.T) {
	linux := `PING example.com (93.184.216.34) 56(84) bytes of data.
64 bytes from 93.184.216.34: icmp_seq=1 ttl=56 time=11.2 ms

--- example.com ping statistics ---
3 packets transmitted, 3 received, 0% packet loss, time 2002ms
rtt min/avg/max/mdev = 10.8/11.4/12.1/0.5 ms`

	avg, ok := parseAvgRTT(linux)
	require.True(t, ok)
	assert.Equal(t, 11, avg)

	loss, ok := parsePacketLoss(linux)
	require.True(t, ok)
	assert.Zero(t, loss)

	dead := `--- 10.0.0.99 ping statistics ---
3 packets transmitted, 0 received, 100% packet loss, time 2050ms`
	loss, ok = parsePacketLoss(dead)
	require.True(t, ok)
	assert.Equal(t, 100.0, loss)
}
