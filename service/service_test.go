package service

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testengine/metrics"
)

func TestHealthzHandle(t *testing.T) {
	var ready atomic.Bool
	h := &HealthzServer{Ready: ready.Load}

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT READY", rec.Body.String())

	ready.Store(true)
	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	(&HealthzServer{}).Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func serveOn(t *testing.T, serve func(ctx context.Context, addr string, ln net.Listener) error) (string, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(context.Background(), ln.Addr().String(), ln)
	}()
	return "http://" + ln.Addr().String(), errCh
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.DefaultClient.Do(req)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealthzServer(t *testing.T) {
	h := &HealthzServer{}
	base, errCh := serveOn(t, h.Serve)

	resp, body := get(t, base+"/healthz", http.Header{"Origin": {"http://example.com"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	require.NoError(t, h.Shutdown(context.Background()))
	assert.True(t, errors.Is(<-errCh, http.ErrServerClosed))
}

func TestMetricsServer(t *testing.T) {
	metrics.RecordForcedStop()

	m := &MetricsServer{}
	base, errCh := serveOn(t, m.Serve)

	resp, body := get(t, base+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "testengine_forced_stops_total")

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, errors.Is(<-errCh, http.ErrServerClosed))
}

func TestShutdownBeforeServe(t *testing.T) {
	h := &HealthzServer{}
	require.NoError(t, h.Shutdown(context.Background()))
	err := h.Start(context.Background(), "127.0.0.1:0")
	assert.ErrorIs(t, err, http.ErrServerClosed)
}

func TestServiceLifecycle(t *testing.T) {
	svc := New(Config{
		HealthzAddr: "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
		Log:         log.NewLogger(log.DiscardHandler()),
	})
	svc.Start(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	svc.Start(context.Background())
	svc.Shutdown()
}
