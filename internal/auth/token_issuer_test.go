package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		AdminAPIKey:   "admin-key",
		Issuer:        "keepsake-api",
		Audience:      "keepsake-admin",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesAdminTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueAdminToken(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &AdminClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %#v", claims)
	}
	if claims.Issuer != "keepsake-api" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "keepsake-admin" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerAuthenticateChecksAPIKey(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	if _, _, err := issuer.Authenticate(context.Background(), "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	tokenString, _, err := issuer.Authenticate(context.Background(), "admin-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != RoleAdmin {
		t.Fatalf("expected default subject, got %s", subject)
	}
}

func TestTokenIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(t, func() time.Time { return now })
	tokenString, _, err := issuer.IssueAdminToken(context.Background(), "ops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := newTestIssuer(t, func() time.Time { return now.Add(time.Hour) })
	if _, err := later.ValidateToken(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		AdminAPIKey:   "admin-key",
		Issuer:        "keepsake-api",
		Audience:      "keepsake-admin",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := other.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign secret, got %v", err)
	}
	if _, err := issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	base := TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		AdminAPIKey:   "key",
		Issuer:        "keepsake-api",
		Audience:      "keepsake-admin",
		TokenTTL:      5 * time.Minute,
	}
	testCases := []struct {
		name   string
		mutate func(*TokenIssuerConfig)
		target error
	}{
		{name: "secret", mutate: func(c *TokenIssuerConfig) { c.SigningSecret = nil }, target: ErrMissingSigningSecret},
		{name: "api key", mutate: func(c *TokenIssuerConfig) { c.AdminAPIKey = " " }, target: ErrMissingAPIKey},
		{name: "issuer", mutate: func(c *TokenIssuerConfig) { c.Issuer = "" }, target: ErrMissingIssuer},
		{name: "audience", mutate: func(c *TokenIssuerConfig) { c.Audience = " " }, target: ErrMissingAudience},
		{name: "ttl", mutate: func(c *TokenIssuerConfig) { c.TokenTTL = 0 }, target: ErrInvalidTTL},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := base
			testCase.mutate(&cfg)
			if _, err := NewTokenIssuer(cfg); !errors.Is(err, testCase.target) {
				t.Fatalf("expected %v, got %v", testCase.target, err)
			}
		})
	}
}
