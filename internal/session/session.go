package session

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
)

// Session holds the bearer credential for the lifetime of the client.
// Token issuance and renewal are the auth service's problem; the dashboard
// only carries the token and reads an identity out of it.
type Session struct {
	mu       sync.Mutex
	token    string
	onLogout func()
	done     bool
}

func New(token string, onLogout func()) *Session {
	return &Session{token: token, onLogout: onLogout}
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// UserID extracts the user identity from the credential, or reports that
// none could be decoded.
func (s *Session) UserID() (string, bool) {
	return UserIDFromToken(s.Token())
}

// Logout clears the credential and runs the logout hook exactly once.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.token = ""
	hook := s.onLogout
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// UserIDFromToken decodes the payload segment of a JWT without verifying
// its signature (the client trusts the backend-issued credential; it only
// needs the identity for the notification topic). Returns false for
// anything that does not parse. It never returns an error and never panics.
func UserIDFromToken(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return "", false
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}
	switch v := claims["userId"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, true
	}
	return "", false
}

func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	// Some issuers emit standard base64.
	return base64.RawStdEncoding.DecodeString(seg)
}
