package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestClient_Get_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{
		"Accept":    "application/json",
		"X-Api-Key": "abc",
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClient_Get_BearerAuth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	resp, err := New(WithAuthToken("secret-token")).Get(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(resp.Body))

	_, err = New().Get(context.Background(), srv.URL, nil, time.Second)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestClient_Get_StatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Get(context.Background(), srv.URL+"/boom", nil, time.Second)
	require.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, KindHTTPStatus, Kind(err))
	assert.False(t, IsNotFound(err))

	_, err = c.Get(context.Background(), srv.URL+"/missing", nil, time.Second)
	require.ErrorIs(t, err, ErrHTTPStatus)
	assert.True(t, IsNotFound(err))
}

func TestClient_Get_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := New().Get(context.Background(), srv.URL, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, Kind(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Get_NetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New().Get(context.Background(), addr, nil, time.Second)
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, KindNetwork, Kind(err))
}

func TestClient_Get_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := New().Get(context.Background(), "ftp://example.com/file", nil, time.Second)
	require.ErrorIs(t, err, ErrInvalidURL)
	_, err = New().Get(context.Background(), "://bad", nil, time.Second)
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestClient_Get_BodyTooLarge(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := New(WithMaxBodySize(16)).Get(context.Background(), srv.URL, nil, time.Second)
	require.ErrorIs(t, err, ErrBodyTooLarge)

	resp, err := New(WithMaxBodySize(64)).Get(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestClient_Get_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(WithCircuitBreaker(BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}))
	for range 2 {
		_, err := c.Get(context.Background(), srv.URL, nil, time.Second)
		require.ErrorIs(t, err, ErrHTTPStatus)
	}
	_, err := c.Get(context.Background(), srv.URL, nil, time.Second)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, KindCircuitOpen, Kind(err))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Get_CircuitBreakerIgnoresClientErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(WithCircuitBreaker(BreakerSettings{MaxFailures: 1}))
	for range 3 {
		_, err := c.Get(context.Background(), srv.URL, nil, time.Second)
		require.ErrorIs(t, err, ErrHTTPStatus)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", fmt.Errorf("%w: x", ErrTimeout), KindTimeout},
		{"status", &StatusError{StatusCode: 500}, KindHTTPStatus},
		{"circuit", ErrCircuitOpen, KindCircuitOpen},
		{"network", ErrNetwork, KindNetwork},
		{"other", errors.New("boom"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
