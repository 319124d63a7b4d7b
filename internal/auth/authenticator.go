package auth

import (
	"fmt"
	"sync"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

// Authenticator checks client credentials from the security configuration
// and issues access tokens.
//
// Thread Safety:
//   - Safe for concurrent use; the client table is fixed at construction.
type Authenticator struct {
	secret  string
	ttl     int
	clients map[string]Client

	dummyOnce sync.Once
	dummy     string
}

// NewAuthenticator builds an authenticator. An empty JWT secret disables
// authentication; Enabled then reports false.
func NewAuthenticator(cfg config.SecurityConfig) (*Authenticator, error) {
	a := &Authenticator{
		secret:  cfg.JWT.Secret,
		ttl:     cfg.JWT.AccessTokenTTL,
		clients: make(map[string]Client, len(cfg.Clients)),
	}
	for i, cc := range cfg.Clients {
		role := Role(cc.Role)
		if !IsValidClientID(cc.ID) {
			return nil, fmt.Errorf("security.clients[%d]: invalid id %q", i, cc.ID)
		}
		if !IsValidRole(role) {
			return nil, fmt.Errorf("security.clients[%d]: invalid role %q", i, cc.Role)
		}
		if _, err := decodePHC(cc.KeyHash); err != nil {
			return nil, fmt.Errorf("security.clients[%d]: key_hash: %w", i, err)
		}
		if _, dup := a.clients[cc.ID]; dup {
			return nil, fmt.Errorf("security.clients[%d]: duplicate id %q", i, cc.ID)
		}
		a.clients[cc.ID] = Client{ID: cc.ID, KeyHash: cc.KeyHash, Role: role}
	}
	return a, nil
}

// Enabled reports whether requests must carry a token.
func (a *Authenticator) Enabled() bool {
	return a.secret != ""
}

// Authenticate verifies a client ID and key.
// Unknown IDs cost the same hash work as wrong keys.
func (a *Authenticator) Authenticate(id, key string) (*Client, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	c, ok := a.clients[id]
	hash := c.KeyHash
	if !ok {
		hash = a.dummyHash()
	}
	match, err := VerifyKey(key, hash)
	if err != nil {
		return nil, fmt.Errorf("verifying key: %w", err)
	}
	if !ok || !match {
		return nil, ErrInvalidCredentials
	}
	return &c, nil
}

// IssueToken signs an access token for an authenticated client.
func (a *Authenticator) IssueToken(c *Client) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	return GenerateAccessToken(c, a.secret, a.ttl)
}

// TokenTTLSeconds is the lifetime of issued tokens, for responses.
func (a *Authenticator) TokenTTLSeconds() int {
	if a.ttl <= 0 {
		return int(defaultTokenTTL.Seconds())
	}
	return a.ttl * 60 //nolint:mnd // minutes to seconds
}

// Verify parses a bearer token.
func (a *Authenticator) Verify(token string) (*CustomClaims, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	return ParseToken(token, a.secret)
}

func (a *Authenticator) dummyHash() string {
	a.dummyOnce.Do(func() {
		h, err := HashKey("projectorctl-unknown-client")
		if err != nil {
			h = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
		}
		a.dummy = h
	})
	return a.dummy
}
