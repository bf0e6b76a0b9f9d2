package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crmflow/internal/config"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func signTestToken(t *testing.T, secret string, claims map[string]interface{}) string {
	t.Helper()
	header := map[string]interface{}{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerJSON)
	p := base64.RawURLEncoding.EncodeToString(claimsJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h + "." + p))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return h + "." + p + "." + sig
}

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret

	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": GetTenantID(c),
			"user_id":   GetUserID(c),
		})
	})
	return r
}

func doAuthRequest(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthTestRouter()

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{
			name:     "missing token",
			token:    "",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "garbage token",
			token:    "not.a.jwt",
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			token: signTestToken(t, "other-secret", map[string]interface{}{
				"tenant_id": 1, "user_id": 10,
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "no tenant claim",
			token: signTestToken(t, testSecret, map[string]interface{}{
				"user_id": 10,
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			token: signTestToken(t, testSecret, map[string]interface{}{
				"tenant_id": 1, "user_id": 10,
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "valid token",
			token: signTestToken(t, testSecret, map[string]interface{}{
				"tenant_id": 1, "user_id": 10,
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.token)
			if w.Code != tt.wantCode {
				t.Fatalf("got %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_InjectsIdentity(t *testing.T) {
	r := newAuthTestRouter()
	token := signTestToken(t, testSecret, map[string]interface{}{
		"tenant_id": 7, "user_id": 42,
	})
	w := doAuthRequest(r, token)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		TenantID uint `json:"tenant_id"`
		UserID   uint `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TenantID != 7 || resp.UserID != 42 {
		t.Fatalf("identity: %+v", resp)
	}
}

func TestAuthMiddleware_RolePermissions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret

	r := gin.New()
	r.Use(AuthMiddleware(cfg))
	protected := r.Group("/")
	protected.Use(RequireResourcePermission("automation"))
	protected.GET("/rules", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name     string
		roles    []string
		wantCode int
	}{
		{"admin passes", []string{"admin"}, http.StatusOK},
		{"manager passes", []string{"manager"}, http.StatusOK},
		{"member passes read", []string{"member"}, http.StatusOK},
		{"no role denied", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := map[string]interface{}{"tenant_id": 1, "user_id": 1}
			if tt.roles != nil {
				claims["roles"] = tt.roles
			}
			req := httptest.NewRequest(http.MethodGet, "/rules", nil)
			req.Header.Set("Authorization", "Bearer "+signTestToken(t, testSecret, claims))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("got %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}
