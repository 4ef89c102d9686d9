package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminService 管理员登录。账号来自配置，密码以 bcrypt 哈希保存。
// 登录成功得到的令牌就是后续管理操作所需的显式凭证。
type AdminService struct {
	username     string
	passwordHash []byte
	jwt          *JWTService
	logger       *zap.Logger
}

// NewAdminService 创建管理员服务
func NewAdminService(cfg config.AdminConfig, jwtSvc *JWTService, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		jwt:          jwtSvc,
		logger:       logger,
	}
}

// Login 校验账号密码并签发访问令牌
func (s *AdminService) Login(_ context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if len(s.passwordHash) == 0 {
		s.logger.Warn("admin login attempted but no password hash is configured")
		return nil, ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	// 用户名错误时也执行哈希比较，使两种失败的耗时一致
	pwErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password))
	if !userOK || pwErr != nil {
		s.logger.Info("admin login failed", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	user := &domain.User{Username: s.username, Role: domain.UserRoleAdmin}
	token, err := s.jwt.GenerateToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin logged in", zap.String("username", user.Username))
	return &domain.LoginResponse{
		User:        user,
		AccessToken: token,
		ExpiresIn:   int64(s.jwt.TTL().Seconds()),
	}, nil
}
