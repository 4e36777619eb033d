package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	ratelimitmw "github.com/example/ridehail/internal/http/middleware"
)

func newLimitedServer(t *testing.T, read, write ratelimitmw.RateConfig) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimitmw.NewRateLimiter(client, read, write)
	require.NotNil(t, limiter)

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	server := newLimitedServer(t,
		ratelimitmw.RateConfig{Rate: 1, Burst: 3},
		ratelimitmw.RateConfig{Rate: 1, Burst: 3},
	)

	for i := 0; i < 3; i++ {
		resp, err := http.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	server := newLimitedServer(t,
		ratelimitmw.RateConfig{Rate: 1, Burst: 2},
		ratelimitmw.RateConfig{Rate: 1, Burst: 2},
	)

	var last *http.Response
	for i := 0; i < 3; i++ {
		resp, err := http.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		last = resp
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)

	// a sub-second wait must still surface as a whole-second Retry-After
	retryAfter, err := strconv.Atoi(last.Header.Get("Retry-After"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, retryAfter, 1)
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	server := newLimitedServer(t,
		ratelimitmw.RateConfig{Rate: 1, Burst: 1},
		ratelimitmw.RateConfig{Rate: 1, Burst: 1},
	)

	get := func(clientID string) int {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("X-Client-ID", clientID)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, get("rider-a"))
	require.Equal(t, http.StatusTooManyRequests, get("rider-a"))
	require.Equal(t, http.StatusOK, get("rider-b"))
}
