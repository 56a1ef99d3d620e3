package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdant/adapters/oidc"
)

func TestNew(t *testing.T) {
	t.Run("缺少 token 驗證器", func(t *testing.T) {
		_, err := New(ServerConfig{}, Dependencies{DB: newTestDB(t), Store: newMemoryStore()})
		assert.Error(t, err)
	})

	t.Run("缺少物件儲存", func(t *testing.T) {
		_, err := New(ServerConfig{}, Dependencies{DB: newTestDB(t), Verifier: fakeVerifier{}})
		assert.Error(t, err)
	})

	t.Run("套用預設值", func(t *testing.T) {
		ts := newTestServer(t, ServerConfig{})
		assert.EqualValues(t, 5<<20, ts.impl.config.Upload.MaxFileSize)
		assert.Equal(t, 10, ts.impl.config.Upload.MaxFiles)
		assert.Equal(t, []string{"*"}, ts.impl.config.CORSOrigins)
		assert.Nil(t, ts.impl.limiter)
		// 沒有 redis 時 Start 與 Close 都不需要外部服務
		require.NoError(t, ts.impl.Start())
	})
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"沒有 Authorization", "", "No token provided"},
		{"不是 Bearer", "Basic abc", "No token provided"},
		{"空的 token", "Bearer ", "No token provided"},
		{"無效的 token", "Bearer nope", "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/plants", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w, body := ts.do(t, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.message, body.Message)
		})
	}

	t.Run("小寫的 bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/plants", nil)
		req.Header.Set("Authorization", "bearer "+aliceToken)
		w, _ := ts.do(t, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("驗證後的身分放在 context", func(t *testing.T) {
		var got *oidc.Identity
		var owner string
		router := gin.New()
		router.GET("/whoami", authMiddleware(fakeVerifier{aliceToken: alice}), func(c *gin.Context) {
			got, owner = currentIdentity(c), ownerID(c)
			c.Status(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, got)
		assert.Equal(t, alice, owner)
		assert.Equal(t, "alice-sub@garden.test", got.Email)
		assert.Equal(t, "alice", got.Name)
	})

	t.Run("未驗證時沒有身分", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Nil(t, currentIdentity(c))
		assert.Empty(t, ownerID(c))
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	w, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "Server is running", body.Message)
	assert.Contains(t, string(body.Data), "timestamp")

	t.Run("資料庫無法連線", func(t *testing.T) {
		sqlDB, err := ts.db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
		w, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "error", body.Status)
	})
}

func TestNoRoute(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	w, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", body.Message)
}

func TestCORS(t *testing.T) {
	t.Run("任意來源", func(t *testing.T) {
		ts := newTestServer(t, ServerConfig{})
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/plants", nil)
		req.Header.Set("Origin", "https://garden.example.com")
		w, _ := ts.do(t, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})

	t.Run("限定來源", func(t *testing.T) {
		ts := newTestServer(t, ServerConfig{CORSOrigins: []string{"https://garden.example.com"}})

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/plants", nil)
		req.Header.Set("Origin", "https://garden.example.com")
		w, _ := ts.do(t, req)
		assert.Equal(t, "https://garden.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Values("Vary"), "Origin")

		req = httptest.NewRequest(http.MethodOptions, "/api/v1/plants", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w, _ = ts.do(t, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

		// 一般請求也帶上允許的來源
		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://garden.example.com")
		w, _ = ts.do(t, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://garden.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("來源格式錯誤", func(t *testing.T) {
		_, err := New(ServerConfig{CORSOrigins: []string{"garden.example.com"}}, Dependencies{
			DB:       newTestDB(t),
			Store:    newMemoryStore(),
			Verifier: fakeVerifier{},
		})
		assert.ErrorContains(t, err, "Invalid CORS origins")
	})

	t.Run("安全性標頭", func(t *testing.T) {
		ts := newTestServer(t, ServerConfig{})
		w, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, ServerConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}})

	for range 2 {
		w, _ := ts.doJSON(t, http.MethodGet, "/api/v1/plants", aliceToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, body := ts.doJSON(t, http.MethodGet, "/api/v1/plants", aliceToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many requests. Please wait a moment.", body.Message)

	// 每位使用者各自計算
	w, _ = ts.doJSON(t, http.MethodGet, "/api/v1/plants", bobToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOwnerLimiter_Evict(t *testing.T) {
	limiter := newOwnerLimiter(RateLimitConfig{RequestsPerSecond: 1})
	require.NotNil(t, limiter)
	assert.Equal(t, 2, limiter.burst)

	limiter.allow(alice)
	limiter.allow(bob)
	limiter.visitors[alice].lastSeen = limiter.visitors[alice].lastSeen.Add(-2 * visitorTTL)
	limiter.evict(limiter.visitors[bob].lastSeen)
	assert.NotContains(t, limiter.visitors, alice)
	assert.Contains(t, limiter.visitors, bob)

	limiter.Start()
	limiter.Close()
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	ts.doJSON(t, http.MethodGet, "/api/v1/plants", aliceToken, nil)
	ts.do(t, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	raw, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `verdant_http_requests_total{code="200",method="GET",route="/api/v1/plants"} 1`)
	assert.Contains(t, text, `route="unmatched"`)
	assert.True(t, strings.Contains(text, "verdant_images_uploaded_total 0"))
}
