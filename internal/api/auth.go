package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/projectorctl/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// tokenRequest is the request body for POST /auth/token.
type tokenRequest struct {
	ClientID string `json:"client_id"`
	Key      string `json:"key"`
}

// tokenResponse is the response body for POST /auth/token.
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	Role        auth.Role `json:"role"`
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
	now     func() time.Time
}

type ticketEntry struct {
	clientID  string
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry), now: time.Now}
}

// issue stores a new ticket for the caller and returns it.
func (t *ticketStore) issue(clientID string, role auth.Role) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{clientID: clientID, role: role, expiresAt: t.now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it.
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)
	return entry, t.now().Before(entry.expiresAt)
}

// clean removes expired tickets.
func (t *ticketStore) clean() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// cleanLoop runs clean periodically until the context is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.clean()
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// handleToken exchanges a client id and key for an access token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ClientID == "" || req.Key == "" {
		writeBadRequest(w, "client_id and key are required")
		return
	}

	client, err := s.auth.Authenticate(req.ClientID, req.Key)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("token request rejected", "client_id", req.ClientID)
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("authenticating client", "client_id", req.ClientID, "error", err)
		writeInternalError(w, "authentication failed")
		return
	}

	token, err := s.auth.IssueToken(client)
	if err != nil {
		s.logger.Error("issuing token", "client_id", client.ID, "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.logger.Info("token issued", "client_id", client.ID, "role", string(client.Role))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.auth.TokenTTLSeconds(),
		Role:        client.Role,
	})
}

// handleWSTicket issues a single-use WebSocket ticket for the caller, so
// the token never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	ticket := s.tickets.issue(c.id, c.role)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}
