// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/config"
)

var ErrInvalidToken = errors.New("invalid token")

// Sessions signs and verifies EdDSA session tokens whose "sub" is the user id.
type Sessions struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// expire of 0 issues tokens without an exp claim.
	expire time.Duration
	now    func() time.Time
}

// NewSessions loads the raw ed25519 key pair from the configured paths. Without
// paths a fresh pair is generated, so tokens do not survive a restart.
func NewSessions(cfg config.AuthConfig) (*Sessions, error) {
	s := &Sessions{expire: cfg.TokenExpire.Std(), now: time.Now}
	if cfg.PrivateKeyPath == "" && cfg.PublicKeyPath == "" {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		s.privateKey, s.publicKey = priv, pub
		return s, nil
	}

	privateKeyData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files must hold raw ed25519 keys (%d and %d bytes)",
			ed25519.PrivateKeySize, ed25519.PublicKeySize)
	}
	s.privateKey = ed25519.PrivateKey(privateKeyData)
	s.publicKey = ed25519.PublicKey(publicKeyData)
	return s, nil
}

// Issue creates a signed token for userID.
func (s *Sessions) Issue(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": s.now().Unix(),
	}
	if s.expire > 0 {
		claims["exp"] = s.now().Add(s.expire).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.privateKey)
}

// Verify checks tokenString and returns the user id in "sub".
func (s *Sessions) Verify(tokenString string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: sub is not a user id", ErrInvalidToken)
	}
	return userID, nil
}
