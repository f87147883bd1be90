package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/supply/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func sessionRequest(method, path, sessionID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	return req
}

// --- API全般のレート制限 ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 2, GeneralBurst: 5, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 2, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if calls != 2 {
		t.Errorf("handler call count = %d, want 2", calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 0.5, GeneralBurst: 1, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-1"))

	retryAfter := w.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("Retry-After header should be set")
	}
	sec, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After = %q, want integer seconds", retryAfter)
	}
	// 0.5 req/sec なので2秒
	if sec != 2 {
		t.Errorf("Retry-After = %d, want 2", sec)
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-1"))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	// sess-aの上限を使い切る
	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-a"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("sess-a second request: status = %d, want 429", w.Code)
	}

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{
			name: "other session",
			req:  func() *http.Request { return sessionRequest(http.MethodGet, "/", "sess-b") },
		},
		{
			name: "bearer token",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.Header.Set("Authorization", "Bearer some-token")
				return req
			},
		},
		{
			name: "anonymous by ip",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = "203.0.113.7:4321"
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tt.req())
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestRateLimitMiddleware_AnonymousClientsAreLimited(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, LoginRate: 1, LoginBurst: 1})

	calls := 0
	handler := rl.GeneralMiddleware()(okHandler(&calls))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

// --- ログインのレート制限 ---

func TestLoginRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 100, GeneralBurst: 100, LoginRate: 1, LoginBurst: 2})

	calls := 0
	handler := rl.LoginMiddleware()(okHandler(&calls))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

func TestLoginRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, LoginRate: 1, LoginBurst: 1})

	calls := 0
	general := rl.GeneralMiddleware()(okHandler(&calls))
	login := rl.LoginMiddleware()(okHandler(&calls))

	general.ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-1"))
	w := httptest.NewRecorder()
	general.ServeHTTP(w, sessionRequest(http.MethodGet, "/", "sess-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("general: status = %d, want 429", w.Code)
	}

	// API全般の上限に達してもログインは別枠
	w = httptest.NewRecorder()
	login.ServeHTTP(w, sessionRequest(http.MethodPost, "/auth/login", "sess-1"))
	if w.Code != http.StatusOK {
		t.Errorf("login: status = %d, want %d", w.Code, http.StatusOK)
	}

	if rl.GeneralLimiterCount() != 1 || rl.LoginLimiterCount() != 1 {
		t.Errorf("limiter counts = (%d, %d), want (1, 1)", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

// --- クリーンアップ ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: time.Hour, // バックグラウンドのクリーンアップは走らせない
	})

	calls := 0
	rl.GeneralMiddleware()(okHandler(&calls)).ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodGet, "/", "sess-old"))
	rl.LoginMiddleware()(okHandler(&calls)).ServeHTTP(httptest.NewRecorder(), sessionRequest(http.MethodPost, "/auth/login", "sess-old"))

	if rl.GeneralLimiterCount() != 1 || rl.LoginLimiterCount() != 1 {
		t.Fatalf("limiter counts = (%d, %d), want (1, 1)", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}

	// TTL（CleanupIntervalの2倍）以内は残る
	rl.cleanup(time.Now().Add(time.Hour))
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("entry should survive within TTL, count = %d", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 || rl.LoginLimiterCount() != 0 {
		t.Errorf("limiter counts after cleanup = (%d, %d), want (0, 0)", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- デフォルト設定 ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.LoginRate == 0 {
		t.Error("LoginRate should not be 0")
	}
	if cfg.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want 10", cfg.LoginBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
