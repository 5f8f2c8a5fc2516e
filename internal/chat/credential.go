package chat

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Credential is the capability a backend uses to authorize. Token returns a fresh copy on
// every call; the caller is expected to clear it once the auth frame has been written.
type Credential interface {
	User() string
	Token() []byte
}

// StaticCredential is an in-memory Credential. It never prints its token.
type StaticCredential struct {
	user  string
	token []byte
}

// NewCredential copies token into a new credential.
func NewCredential(user string, token []byte) *StaticCredential {
	return &StaticCredential{user: user, token: append([]byte(nil), token...)}
}

// User returns the user identifier.
func (c *StaticCredential) User() string {
	return c.user
}

// Token returns a copy of the secret.
func (c *StaticCredential) Token() []byte {
	return append([]byte(nil), c.token...)
}

// Wipe zeroes the stored secret.
func (c *StaticCredential) Wipe() {
	clear(c.token)
	c.token = nil
}

// ExpiresAt reports the exp claim when the token is a JWT. The signature is not checked;
// this only serves to warn about a token that is already stale.
func (c *StaticCredential) ExpiresAt() (time.Time, bool) {
	if len(c.token) == 0 {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(c.token), claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c *StaticCredential) String() string {
	return "{User: " + c.user + ", Token: [redacted]}"
}

// GoString keeps %#v from dumping the token bytes.
func (c *StaticCredential) GoString() string {
	return c.String()
}

// MarshalZerologObject logs the user only.
func (c *StaticCredential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("user", c.user).Bool("has_token", len(c.token) > 0)
}

type expiring interface {
	ExpiresAt() (time.Time, bool)
}
