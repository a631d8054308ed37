package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/taskhub/internal/config"
	"github.com/haasonsaas/taskhub/pkg/models"
)

func TestService_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuthConfig
		want bool
	}{
		{"empty config", config.AuthConfig{}, false},
		{"jwt secret", config.AuthConfig{JWTSecret: "s3cret"}, true},
		{"api keys", config.AuthConfig{APIKeys: []config.APIKeyConfig{{Key: "k1", UserID: "alice"}}}, true},
		{"blank key ignored", config.AuthConfig{APIKeys: []config.APIKeyConfig{{Key: "  "}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.cfg).Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_AuthenticateJWT(t *testing.T) {
	service := NewService(config.AuthConfig{JWTSecret: "s3cret"})
	signer := NewJWTService("s3cret")

	token, err := signer.Sign(&models.User{
		ID:     "alice",
		Email:  "alice@example.com",
		Device: "web",
	}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	user, err := service.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.ID != "alice" {
		t.Errorf("user ID = %q, want alice", user.ID)
	}
	if user.Device != "web" {
		t.Errorf("device = %q, want web", user.Device)
	}
}

func TestService_AuthenticateExpiredJWT(t *testing.T) {
	service := NewService(config.AuthConfig{JWTSecret: "s3cret"})
	signer := NewJWTService("s3cret")

	token, err := signer.Sign(&models.User{ID: "alice"}, -time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := service.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestService_AuthenticateWrongSecret(t *testing.T) {
	service := NewService(config.AuthConfig{JWTSecret: "right"})
	signer := NewJWTService("wrong")

	token, err := signer.Sign(&models.User{ID: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := service.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate(forged) error = %v, want ErrInvalidToken", err)
	}
}

func TestService_AuthenticateAPIKey(t *testing.T) {
	service := NewService(config.AuthConfig{
		APIKeys: []config.APIKeyConfig{
			{Key: "key-abc", UserID: "alice", Email: "alice@example.com"},
			{Key: "key-def"},
		},
	})

	user, err := service.Authenticate("key-abc")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.ID != "alice" {
		t.Errorf("user ID = %q, want alice", user.ID)
	}

	// Keys without an explicit user get a stable derived identity.
	derived, err := service.Authenticate("key-def")
	if err != nil {
		t.Fatalf("Authenticate(derived) error = %v", err)
	}
	if derived.ID == "" {
		t.Error("derived user has no ID")
	}
	again, _ := service.Authenticate("key-def")
	if again.ID != derived.ID {
		t.Errorf("derived ID unstable: %q vs %q", again.ID, derived.ID)
	}

	if _, err := service.Authenticate("key-xyz"); err == nil {
		t.Error("Authenticate(unknown key) succeeded, want error")
	}
}

func TestService_AuthenticateEmptyToken(t *testing.T) {
	service := NewService(config.AuthConfig{JWTSecret: "s3cret"})
	if _, err := service.Authenticate("   "); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate(blank) error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTService_SignRequiresUser(t *testing.T) {
	signer := NewJWTService("s3cret")
	if _, err := signer.Sign(nil, time.Hour); err == nil {
		t.Error("Sign(nil) succeeded, want error")
	}
	if _, err := signer.Sign(&models.User{ID: "  "}, time.Hour); err == nil {
		t.Error("Sign(blank id) succeeded, want error")
	}
}
