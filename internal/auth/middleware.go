package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dingjianrui/code-agent/internal/logger"
)

// Middleware authenticates requests with a Bearer token. Read-only tokens
// are rejected on anything but GET.
func Middleware(store *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			tokenID := strings.TrimPrefix(header, "Bearer ")
			token, err := store.Validate(tokenID)
			if err != nil {
				logger.Info("Token rejected: %v", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ac := &Context{Token: token}
			if r.Method != http.MethodGet && !ac.CanWrite() {
				writeError(w, http.StatusForbidden, "token is read-only")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// MaskToken shortens a token for log output
func MaskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}
