package gifts

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

const tokenBytes = 24

// IDProvider issues record and contribution identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// TokenSource issues capability tokens.
type TokenSource interface {
	NewToken() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type randomTokenSource struct{}

// NewRandomTokenSource issues 192-bit URL-safe tokens.
func NewRandomTokenSource() TokenSource {
	return randomTokenSource{}
}

func (randomTokenSource) NewToken() (string, error) {
	buffer := make([]byte, tokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
