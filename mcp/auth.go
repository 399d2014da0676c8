package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// authenticateRequest checks the static bearer token when one is configured.
// It writes the error response itself and returns false on failure.
func (s *StreamableServer) authenticateRequest(w http.ResponseWriter, r *http.Request) bool {
	if s.conf.Auth.AuthToken == "" {
		return true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.writeAuthError(w, "invalid_request", "Invalid authorization header format", http.StatusBadRequest)
		return false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || strings.ToLower(scheme) != "bearer" {
		s.writeAuthError(w, "invalid_request", "Invalid authorization header format", http.StatusBadRequest)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.conf.Auth.AuthToken)) != 1 {
		s.writeAuthError(w, "invalid_token", "invalid access token", http.StatusUnauthorized)
		return false
	}

	return true
}

func (s *StreamableServer) writeAuthError(w http.ResponseWriter, err string, message string, code int) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+err+`"`)
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(code)
	responseJson, _ := json.Marshal(map[string]any{
		"error":             err,
		"error_description": message,
	})
	if _, err := fmt.Fprintln(w, string(responseJson)); err != nil {
		log.WithError(err).Error("Failed to write auth error response")
	}
}
