package httpretry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFastClient returns a RetryClient whose backoff bottoms out at the
// jitter floor so tests do not sleep for real.
func newFastClient(doer HTTPDoer, maxRetries int) *RetryClient {
	rc := NewRetryClient(doer, maxRetries)
	rc.baseDelay = time.Millisecond
	rc.maxDelay = 10 * time.Millisecond
	return rc
}

func countingServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDoSuccessNoRetry(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK)
	rc := newFastClient(srv.Client(), 3)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestDoClientErrorNotRetried(t *testing.T) {
	srv, calls := countingServer(t, http.StatusBadRequest)
	rc := newFastClient(srv.Client(), 3)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestDoRetriesServerError(t *testing.T) {
	srv, calls := countingServer(t, http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK)
	rc := newFastClient(srv.Client(), 3)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestDoExhaustedReturnsFinalResponse(t *testing.T) {
	srv, calls := countingServer(t, http.StatusServiceUnavailable)
	rc := newFastClient(srv.Client(), 2)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err, "final attempt hands the response back for the caller to classify")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls), "initial attempt plus two retries")
}

func TestWithoutStatusRemovesFromRetrySet(t *testing.T) {
	srv, calls := countingServer(t, http.StatusTooManyRequests)
	rc := newFastClient(srv.Client(), 3).WithoutStatus(http.StatusTooManyRequests)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

type failingDoer struct {
	calls int32
	err   error
}

func (f *failingDoer) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, f.err
}

func TestDoRetriesNetworkError(t *testing.T) {
	doer := &failingDoer{err: errors.New("connection refused")}
	rc := newFastClient(doer, 2)

	req, _ := http.NewRequest(http.MethodGet, "http://localhost:1/x", nil)
	_, err := rc.Do(req)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&doer.calls))
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	doer := &failingDoer{err: errors.New("connection refused")}
	rc := newFastClient(doer, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:1/x", nil)

	_, err := rc.Do(req)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&doer.calls))
}

func TestCalculateDelayBounds(t *testing.T) {
	rc := NewRetryClient(nil, 3)

	for attempt := 1; attempt <= 10; attempt++ {
		d := rc.calculateDelay(attempt)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, rc.maxDelay)
	}
}
