package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"reactor-lab/internal/config"
	"reactor-lab/internal/db"
	"reactor-lab/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	sessionExpiry time.Duration
	tokenLength   int
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		sessionExpiry: time.Duration(cfg.Auth.SessionExpiryHours) * time.Hour,
		tokenLength:   cfg.Auth.TokenLength,
	}
}

// Login verifies the credentials and opens a new session.
func (s *AuthService) Login(username, password string) (*model.Session, error) {
	var user model.User
	if err := db.DB.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}
	session := &model.Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.sessionExpiry),
	}
	if err := db.DB.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// UserIDForToken resolves a bearer token to a user ID, 0 when the token is
// unknown or expired.
func (s *AuthService) UserIDForToken(token string) (uint, error) {
	var session model.Session
	err := db.DB.Where("token = ? AND expires_at > ?", token, time.Now()).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("look up session: %w", err)
	}
	return session.UserID, nil
}

func (s *AuthService) Logout(token string) error {
	return db.DB.Where("token = ?", token).Delete(&model.Session{}).Error
}

func (s *AuthService) Profile(userID uint) (*model.User, error) {
	var user model.User
	if err := db.DB.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return &user, nil
}

// CleanupExpiredSessions deletes stale sessions and returns how many went.
func (s *AuthService) CleanupExpiredSessions() (int64, error) {
	res := db.DB.Where("expires_at < ?", time.Now()).Delete(&model.Session{})
	return res.RowsAffected, res.Error
}

func (s *AuthService) newToken() (string, error) {
	buf := make([]byte, s.tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
