package service

import (
	"errors"

	"pesagate/config"
	"pesagate/internal/auth"
	"pesagate/internal/domain"
	"pesagate/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCreds  = errors.New("invalid password")
	ErrAdminDisabled = errors.New("operator login is not configured")
)

const operatorSubject = "operator"

type AuditWriter interface {
	Create(log *models.AuditLog) error
}

// AuthService logs the single operator in against the configured bcrypt hash.
type AuthService struct {
	cfg   *config.AdminConfig
	audit AuditWriter
}

func NewAuthService(cfg *config.AdminConfig, audit AuditWriter) *AuthService {
	return &AuthService{cfg: cfg, audit: audit}
}

func (s *AuthService) Login(password, ip, userAgent string) (string, error) {
	if !s.cfg.AdminEnabled() {
		return "", ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCreds
	}
	token, err := auth.GenerateAccessToken(s.cfg, operatorSubject, domain.RoleAdmin)
	if err != nil {
		return "", err
	}
	if s.audit != nil {
		_ = s.audit.Create(&models.AuditLog{
			Action:    domain.AuditAdminLogin,
			Resource:  "operator",
			IP:        ip,
			UserAgent: userAgent,
		})
	}
	return token, nil
}

// HashPassword produces the value for admin.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
