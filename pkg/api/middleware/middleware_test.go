package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	. "testbot/pkg/api/middleware"
	"testbot/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimiter(t *testing.T, perMinute, burst int) *RateLimiter {
	t.Helper()
	limiter := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: perMinute,
		BurstSize:         burst,
		IdleTTL:           time.Minute,
	})
	t.Cleanup(limiter.Close)
	return limiter
}

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	limiter := newLimiter(t, 60, 2)

	if !limiter.Allow("client1") || !limiter.Allow("client1") {
		t.Fatal("burst requests should be allowed")
	}
	if limiter.Allow("client1") {
		t.Error("third request should be blocked after burst exhausted")
	}
}

func TestRateLimiter_SeparatesClients(t *testing.T) {
	limiter := newLimiter(t, 60, 1)

	limiter.Allow("client1")
	if !limiter.Allow("client2") {
		t.Error("different client should have separate quota")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	limiter := newLimiter(t, 6000, 1)

	limiter.Allow("client1")
	time.Sleep(20 * time.Millisecond)

	if !limiter.Allow("client1") {
		t.Error("token should have refilled after waiting")
	}
}

func TestRateLimiter_Middleware429(t *testing.T) {
	limiter := newLimiter(t, 60, 1)

	router := gin.New()
	router.POST("/trigger", limiter.Middleware(), func(c *gin.Context) {
		c.String(http.StatusAccepted, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("first request expected 202, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

func TestRateLimiter_WaitMatchesRefillRate(t *testing.T) {
	limiter := newLimiter(t, 6, 1)
	now := time.Now()

	if ok, _ := limiter.Take("client1", now); !ok {
		t.Fatal("first request should be allowed")
	}
	ok, wait := limiter.Take("client1", now)
	if ok {
		t.Fatal("second request should be blocked")
	}
	if wait < 9900*time.Millisecond || wait > 10100*time.Millisecond {
		t.Errorf("wait = %v, want about 10s", wait)
	}

	if ok, _ := limiter.Take("client1", now.Add(11*time.Second)); !ok {
		t.Error("token should be back after the advertised wait")
	}
}

func newAuthRouter(svc *auth.JWTService) *gin.Engine {
	router := gin.New()
	router.POST("/trigger", AuthMiddleware(svc), RequireRole(auth.RoleOperator, svc != nil), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func doTrigger(router *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestAuth_RoleChecks(t *testing.T) {
	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	router := newAuthRouter(svc)

	operator, _ := svc.GenerateToken("u1", "ops", auth.RoleOperator)
	viewer, _ := svc.GenerateToken("u2", "dash", auth.RoleViewer)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-token", http.StatusUnauthorized},
		{"viewer", viewer, http.StatusForbidden},
		{"operator", operator, http.StatusAccepted},
	}
	for _, tc := range cases {
		if got := doTrigger(router, tc.token); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestAuth_DisabledWithoutService(t *testing.T) {
	if got := doTrigger(newAuthRouter(nil), ""); got != http.StatusAccepted {
		t.Errorf("expected 202 with auth disabled, got %d", got)
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), SecurityHeadersMiddleware())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	id := w.Header().Get(RequestIDHeader)
	if len(id) != 36 || w.Body.String() != id {
		t.Errorf("expected generated uuid request id, got %q / %q", id, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc" {
		t.Error("caller request id should be kept")
	}
}
