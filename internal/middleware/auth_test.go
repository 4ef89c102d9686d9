package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// MockTokenValidator 是用于测试的令牌校验模拟实现
type MockTokenValidator struct {
	validTokens   map[string]*service.Claims
	expiredTokens map[string]bool
}

func NewMockTokenValidator() *MockTokenValidator {
	return &MockTokenValidator{
		validTokens:   make(map[string]*service.Claims),
		expiredTokens: make(map[string]bool),
	}
}

func (m *MockTokenValidator) issue(user *domain.User) string {
	token := "mock_access_token_" + user.Username
	m.validTokens[token] = &service.Claims{Username: user.Username, Role: user.Role, Type: "access"}
	return token
}

func (m *MockTokenValidator) ValidateToken(tokenString string) (*service.Claims, error) {
	if m.expiredTokens[tokenString] {
		return nil, service.ErrTokenExpired
	}
	claims, ok := m.validTokens[tokenString]
	if !ok {
		return nil, service.ErrInvalidToken
	}
	return claims, nil
}

func newAuthEngine(v TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", AdminAuth(v, zap.NewNop()), func(c *gin.Context) {
		user := UserFromContext(c.Request.Context())
		if user == nil {
			c.String(http.StatusInternalServerError, "no user")
			return
		}
		c.String(http.StatusOK, user.Username)
	})
	return r
}

func TestAdminAuth_Success(t *testing.T) {
	v := NewMockTokenValidator()
	token := v.issue(&domain.User{Username: "owner", Role: domain.UserRoleAdmin})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	newAuthEngine(v).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "owner" {
		t.Errorf("Expected 'owner', got %s", rr.Body.String())
	}
}

func TestAdminAuth_Rejects(t *testing.T) {
	v := NewMockTokenValidator()
	v.expiredTokens["stale"] = true
	clerk := v.issue(&domain.User{Username: "clerk", Role: "clerk"})

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"missing Bearer prefix", "invalid_token", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"expired token", "Bearer stale", http.StatusUnauthorized},
		{"not an admin", "Bearer " + clerk, http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			newAuthEngine(v).ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Errorf("Expected status %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestAdminAuth_WithRealJWTService(t *testing.T) {
	jwtSvc := service.NewJWTService(testConfig(), zap.NewNop())
	token, err := jwtSvc.GenerateToken(&domain.User{Username: "owner", Role: domain.UserRoleAdmin})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	newAuthEngine(jwtSvc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
