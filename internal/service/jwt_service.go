package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// JWT相关错误定义
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotReady = errors.New("token used before valid")
)

const tokenTypeAccess = "access"

// Claims 定义JWT载荷结构
type Claims struct {
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	Type     string          `json:"type"`
	jwt.RegisteredClaims
}

// User 由声明还原出的管理员身份
func (c *Claims) User() *domain.User {
	return &domain.User{Username: c.Username, Role: c.Role}
}

// JWTService 签发与校验管理员访问令牌
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewJWTService 创建JWT服务实例
func NewJWTService(cfg *config.Config, logger *zap.Logger) *JWTService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTService{
		secret: []byte(cfg.JWT.Secret),
		issuer: cfg.App.Name,
		ttl:    cfg.JWT.AccessTokenTTL,
		logger: logger,
		now:    time.Now,
	}
}

// TTL 访问令牌有效期
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// GenerateToken 为管理员签发访问令牌
func (s *JWTService) GenerateToken(user *domain.User) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: user.Username,
		Role:     user.Role,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// ValidateToken 校验签名、有效期、类型与签发者
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotReady
		}
		s.logger.Warn("token validation failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != tokenTypeAccess {
		s.logger.Warn("token type mismatch", zap.String("actual", claims.Type))
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		s.logger.Warn("token issuer mismatch",
			zap.String("expected", s.issuer),
			zap.String("actual", claims.Issuer),
		)
		return nil, ErrInvalidToken
	}
	return claims, nil
}
