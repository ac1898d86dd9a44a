// ABOUTME: HTTP middleware that authenticates the websocket handshake with a bearer token
// ABOUTME: Browsers cannot set headers on upgrades, so an access_token query parameter is accepted too

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam carries the token when no Authorization header is present.
const TokenQueryParam = "access_token"

// extractBearerToken returns the token from the Authorization header or the
// query string, and an error message when neither holds one.
func extractBearerToken(r *http.Request) (string, string) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", "invalid authorization header format"
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" {
			return "", "empty token"
		}
		return token, ""
	}
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token, ""
	}
	return "", "missing bearer token"
}

// Middleware rejects requests without a valid token and stores the verified
// subject in the request context. A nil verifier disables authentication.
func Middleware(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("rejected handshake", "remote", r.RemoteAddr, "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
