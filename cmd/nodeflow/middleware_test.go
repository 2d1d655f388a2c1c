package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	handler := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Regexp(t, `^req-[0-9a-f]{32}$`, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("client provided", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "abc-123")
		w := serve(handler, r)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), errorCode(t, w))
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1", "k2"}, []string{"/health"}, true, zap.NewNop())(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "valid header", path: "/api/v1/runs", header: "k2", want: http.StatusOK},
		{name: "missing key", path: "/api/v1/runs", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/v1/runs", header: "nope", want: http.StatusUnauthorized},
		{name: "query key", path: "/api/v1/runs?api_key=k1", want: http.StatusOK},
		{name: "skip path", path: "/health", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			w := serve(handler, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))
			}
		})
	}
}

func TestAPIKeyAuth_QueryDisabled(t *testing.T) {
	handler := APIKeyAuth([]string{"k1"}, nil, false, zap.NewNop())(okHandler())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/runs?api_key=k1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "nodeflow", Audience: "api"}

	var (
		gotUser  string
		gotRoles []string
	)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = types.UserID(r.Context())
		gotRoles = types.Roles(r.Context())
	})
	handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(inner)

	valid := jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "nodeflow",
		"aud":   "api",
		"roles": []any{"admin", "viewer"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.Header.Set("Authorization", "Bearer "+signHS256(t, "s3cret", valid))
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", gotUser)
		assert.Equal(t, []string{"admin", "viewer"}, gotRoles)
	})

	t.Run("user_id claim fallback", func(t *testing.T) {
		claims := jwt.MapClaims{"user_id": "user-2", "iss": "nodeflow", "aud": "api"}
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.Header.Set("Authorization", "Bearer "+signHS256(t, "s3cret", claims))
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-2", gotUser)
	})

	rejected := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "not bearer", header: "Basic abc"},
		{name: "wrong secret", header: "Bearer " + signHS256(t, "other", valid)},
		{name: "wrong issuer", header: "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"sub": "u", "iss": "x", "aud": "api"})},
		{name: "expired", header: "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"sub": "u", "iss": "nodeflow", "aud": "api", "exp": time.Now().Add(-time.Hour).Unix()})},
		{name: "garbage", header: "Bearer not.a.token"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := serve(handler, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, string(types.ErrAuthentication), errorCode(t, w))
		})
	}

	t.Run("skip path", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	request := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		return serve(handler, r)
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)
	w := request("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, string(types.ErrRateLimit), errorCode(t, w))

	// 其他 IP 不受影响
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)
}

func TestRateLimiter_KeyedByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())

	request := func(user, remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		r = r.WithContext(types.WithUserID(r.Context(), user))
		return serve(handler, r).Code
	}

	// 同一 IP 上的不同用户各自拥有配额
	assert.Equal(t, http.StatusOK, request("alice", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, request("bob", "10.0.0.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, request("alice", "10.0.0.9:3"))
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := serve(handler, r)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := serve(handler, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/workflows/run", nil)
		r.Header.Set("Origin", "https://app.example.com")
		r.Header.Set("Access-Control-Request-Method", "POST")
		w := serve(handler, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("preflight disallowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/workflows/run", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		r.Header.Set("Access-Control-Request-Method", "POST")
		w := serve(handler, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/workflows/run", "/api/v1/workflows/run"},
		{"/api/v1/runs", "/api/v1/runs"},
		{"/api/v1/runs/0b4d6c9e-8a57-4b43-9d1f-2f2b7b4f1e6a", "/api/v1/runs/:id"},
		{"/api/v1/runs/run-abc/events", "/api/v1/runs/:id/events"},
		{"/api/v1/runs/42/history", "/api/v1/runs/:id/history"},
		{"/unknown/deadbeefcafe", "/unknown/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("nodeflow", reg, zap.NewNop())
	handler := MetricsMiddleware(collector)(okHandler())

	for range 2 {
		serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/runs/0b4d6c9e-8a57-4b43-9d1f-2f2b7b4f1e6a", nil))
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "nodeflow_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == "/api/v1/runs/:id" && labels["method"] == http.MethodGet {
				found = true
				assert.Equal(t, 2.0, m.GetCounter().GetValue())
				assert.Equal(t, "2xx", labels["status"])
			}
		}
	}
	assert.True(t, found, "expected normalized path label")
}

func TestOTelTracing_PassesThrough(t *testing.T) {
	var traced bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, traced = types.TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	handler := OTelTracing()(inner)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	// 全局 TracerProvider 为 noop 时不注入 trace id
	assert.False(t, traced)
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"https://app.example.com", "http://localhost:3000", "*.example.org"})
	assert.Equal(t, []string{"app.example.com", "localhost:3000", "*.example.org"}, got)
}
