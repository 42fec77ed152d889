package auth

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phototheology/palace/internal/config"
	"github.com/phototheology/palace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastHasher = Hasher{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestHasherRoundTrip(t *testing.T) {
	hash, err := fastHasher.Hash("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=1024,t=1,p=1$")

	ok, err := DefaultHasher.Verify("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok, "parameters are read from the hash")

	ok, err = fastHasher.Verify("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasherRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "plaintext", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=x$AA$AA"} {
		_, err := fastHasher.Verify("pw", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}
	_, err := fastHasher.Verify("pw", "$argon2id$v=16$m=1,t=1,p=1$AA$AA")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestSessionsIssueAndVerify(t *testing.T) {
	s, err := NewSessions(config.AuthConfig{TokenExpire: config.Duration(time.Hour)})
	require.NoError(t, err)

	id := uuid.New()
	tok, err := s.Issue(id)
	require.NoError(t, err)
	got, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	other, err := NewSessions(config.AuthConfig{})
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "a different key pair rejects the token")
}

func TestSessionsExpiry(t *testing.T) {
	s, err := NewSessions(config.AuthConfig{TokenExpire: config.Duration(time.Minute)})
	require.NoError(t, err)
	tok, err := s.Issue(uuid.New())
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionsFromKeyFiles(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	privPath, pubPath := filepath.Join(dir, "jwt.key"), filepath.Join(dir, "jwt.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	s, err := NewSessions(config.AuthConfig{PrivateKeyPath: privPath, PublicKeyPath: pubPath})
	require.NoError(t, err)
	tok, err := s.Issue(uuid.New())
	require.NoError(t, err)
	_, err = s.Verify(tok)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(pubPath, []byte("short"), 0o644))
	_, err = NewSessions(config.AuthConfig{PrivateKeyPath: privPath, PublicKeyPath: pubPath})
	assert.Error(t, err)
}

func TestResolver(t *testing.T) {
	sessions, err := NewSessions(config.AuthConfig{})
	require.NoError(t, err)
	res := &Resolver{Sessions: sessions, ServiceKey: "service-secret"}
	userID := uuid.New()
	tok, err := sessions.Issue(userID)
	require.NoError(t, err)

	req := func(header string, cookie string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/judge", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
		}
		return r
	}

	c, err := res.Resolve(req("Bearer service-secret", ""))
	require.NoError(t, err)
	assert.True(t, c.Service)

	c, err = res.Resolve(req("bearer "+tok, ""))
	require.NoError(t, err)
	assert.False(t, c.Service)
	assert.Equal(t, userID, c.UserID)

	c, err = res.Resolve(req("", tok))
	require.NoError(t, err)
	assert.Equal(t, userID, c.UserID)

	// containing the key is not enough
	_, err = res.Resolve(req("Bearer xx-service-secret-xx", ""))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = res.Resolve(req("", ""))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCallerCanActFor(t *testing.T) {
	me, someone := uuid.New(), uuid.New()
	mine := &models.Player{UserID: &me}
	theirs := &models.Player{UserID: &someone}
	open := &models.Player{DisplayName: "Jeeves"}

	human := Caller{UserID: me}
	assert.True(t, human.CanActFor(mine))
	assert.True(t, human.CanActFor(open))
	assert.False(t, human.CanActFor(theirs))
	assert.True(t, Caller{Service: true}.CanActFor(theirs))
}
