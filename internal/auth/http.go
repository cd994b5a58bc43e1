// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Extracts the JWT from the Authorization header or access_token query parameter

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the credential carried by r. Browsers cannot set
// headers on a WebSocket handshake, so the access_token query parameter is
// accepted when there is no Authorization header.
func RequestToken(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// Authenticate verifies the request's credential and returns the identity.
// The returned message is suitable for a 401 body.
func Authenticate(r *http.Request, verifier TokenVerifier) (*Identity, string) {
	token, errMsg := RequestToken(r)
	if errMsg != "" {
		return nil, errMsg
	}
	id, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid token"
	}
	return id, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens
// and adds the Identity to the request context. Requests without a valid token
// are rejected with 401 before reaching next.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, errMsg := Authenticate(r, verifier)
			if errMsg != "" {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
