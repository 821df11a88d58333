package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/optimap/optimap/internal/api/middleware"
)

func rateLimitedHandler(cfg middleware.RateLimitConfig) http.Handler {
	return middleware.RateLimitByIP(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func sendFrom(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = ip
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_AllowsWithinLimit(t *testing.T) {
	handler := rateLimitedHandler(middleware.RateLimitConfig{
		RequestLimit: 5,
		WindowLength: time.Minute,
	})

	for i := 0; i < 5; i++ {
		rec := sendFrom(handler, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
	}
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := rateLimitedHandler(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})

	for i := 0; i < 3; i++ {
		rec := sendFrom(handler, "10.0.0.1:12345")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := sendFrom(handler, "10.0.0.1:12345")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_RetryAfterCoversFullWindow(t *testing.T) {
	handler := rateLimitedHandler(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: 90 * time.Second,
	})

	sendFrom(handler, "10.0.0.2:12345")
	rec := sendFrom(handler, "10.0.0.2:12345")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_RetryAfterRoundsUp(t *testing.T) {
	// A fractional-second window must not advertise a zero or truncated
	// retry interval.
	handler := rateLimitedHandler(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: 2500 * time.Millisecond,
	})

	sendFrom(handler, "10.0.0.3:12345")
	rec := sendFrom(handler, "10.0.0.3:12345")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	handler := rateLimitedHandler(middleware.RateLimitConfig{
		RequestLimit: 2,
		WindowLength: time.Minute,
	})

	ip1 := "172.16.0.1:12345"
	ip2 := "172.16.0.2:12345"

	for i := 0; i < 2; i++ {
		rec := sendFrom(handler, ip1)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := sendFrom(handler, ip1)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = sendFrom(handler, ip2)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	cfg := middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: time.Minute,
	}

	// RequestID runs first so the problem document carries a trace ID.
	handler := middleware.RequestID(
		middleware.RateLimitByIP(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test/path", http.NoBody)
		req.RemoteAddr = "203.0.113.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "Rate limit exceeded")
	assert.Contains(t, body, "/test/path")
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.ExpensiveRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.ExpensiveRateLimit.WindowLength)

	assert.Equal(t, 100, middleware.StandardRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.StandardRateLimit.WindowLength)
}
