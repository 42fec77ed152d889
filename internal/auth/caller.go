package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/models"
)

var (
	ErrUnauthenticated = errors.New("missing or invalid credentials")
	ErrForbidden       = errors.New("caller may not act for this player")
)

// CookieName is the session cookie set at login.
const CookieName = "auth_token"

// Caller is an authenticated request origin: the service itself or a user.
type Caller struct {
	Service bool
	UserID  uuid.UUID
}

// CanActFor reports whether the caller may move for p. The service may act for
// anyone; a user only for players linked to them or to nobody.
func (c Caller) CanActFor(p *models.Player) bool {
	return c.Service || p.ControlledBy(c.UserID)
}

type Resolver struct {
	Sessions   *Sessions
	ServiceKey string
}

// Resolve authenticates r from its bearer token, falling back to the session
// cookie. The service role key is compared in constant time.
func (res *Resolver) Resolve(r *http.Request) (Caller, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(CookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return Caller{}, ErrUnauthenticated
	}

	if res.ServiceKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(res.ServiceKey)) == 1 {
		return Caller{Service: true}, nil
	}
	userID, err := res.Sessions.Verify(token)
	if err != nil {
		return Caller{}, ErrUnauthenticated
	}
	return Caller{UserID: userID}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
