package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/haasonsaas/taskhub/internal/config"
	"github.com/haasonsaas/taskhub/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Service validates the bearer credential presented at the websocket
// handshake. Connections are rejected before any registry or presence
// state exists, so a failed validation leaves no partial state behind.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]*models.User
}

// NewService constructs an auth service from static configuration.
func NewService(cfg config.AuthConfig) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	return service
}

// Enabled reports whether credential checks should run. When disabled
// (no secret, no keys) connections may identify themselves directly;
// intended for development and tests only.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// Authenticate resolves a bearer credential to a verified user,
// trying JWT first and static API keys second.
func (s *Service) Authenticate(token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if s.jwt != nil {
		if user, err := s.jwt.Validate(token); err == nil {
			return user, nil
		}
	}
	if user, err := s.validateAPIKey(token); err == nil {
		return user, nil
	}
	return nil, ErrInvalidToken
}

// validateAPIKey validates a static key using constant-time comparison
// so that timing cannot reveal valid keys.
func (s *Service) validateAPIKey(key string) (*models.User, error) {
	if len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	var matched *models.User
	for storedKey, user := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(storedKey)) == 1 {
			matched = user
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}
	return matched, nil
}

func buildAPIKeyMap(keys []config.APIKeyConfig) map[string]*models.User {
	out := map[string]*models.User{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &models.User{
			ID:    userID,
			Email: strings.TrimSpace(entry.Email),
			Name:  strings.TrimSpace(entry.Name),
		}
	}
	return out
}
