package service

import (
	"context"
	"errors"
	"time"

	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/pkg/database"
	"cdef-ta-go/pkg/hash"
	"cdef-ta-go/pkg/token"

	"gorm.io/gorm"
)

// UserService 接口定义了所有与用户身份相关的业务操作。
type UserService interface {
	Register(email, password string) (*model.User, error)
	Login(email, password string) (user *model.User, accessToken, refreshToken string, err error)
	GetProfile(userID uint) (*model.User, error)
	Logout(tokenString string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(email, password string) (*model.User, error) {
	// 1. 检查邮箱是否已注册
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, flowErr(AuthenticationFailure, "邮箱已被注册")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, flowErr(AuthenticationFailure, "查询用户失败: %w", err)
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户。聊天历史无需预建：首次追加时由存储侧透明创建。
	newUser := &model.User{
		Email:    email,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, flowErr(AuthenticationFailure, "创建用户失败: %w", err)
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
// 密码经 bcrypt 校验，查找失败与密码不匹配返回同一错误，避免泄露账号是否存在。
func (s *userService) Login(email, password string) (*model.User, string, string, error) {
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", flowErr(AuthenticationFailure, "invalid credentials")
		}
		return nil, "", "", flowErr(AuthenticationFailure, "查询用户失败: %w", err)
	}

	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, "", "", flowErr(AuthenticationFailure, "invalid credentials")
	}

	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, "", "", err
	}
	return user, accessToken, refreshToken, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	// token 的剩余有效期作为黑名单 key 的过期时间
	expiration := time.Until(claims.ExpiresAt.Time)
	return database.RDB.Set(context.Background(), "blacklist:"+tokenString, "true", expiration).Err()
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", flowErr(AuthenticationFailure, "invalid refresh token")
	}

	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return "", "", flowErr(AuthenticationFailure, "user not found")
	}

	newAccessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}
