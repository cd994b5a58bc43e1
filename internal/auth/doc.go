// Package auth authenticates users of microbe-gateway.
//
// # Identity Tokens
//
// Clients authenticate with HS256 JWTs signed with the configured jwt_secret.
// The verified user lives under the "data" claim:
//
//	{"data": {"id": 1, "username": "bob"}, "iss": "microbe.com", "aud": "microbe.com", "exp": ...}
//
// Tokens are issued by POST /api/login after a bcrypt password check, or by
// the "token" CLI subcommand.
//
// # HTTP
//
// HTTPAuthMiddleware rejects requests without a valid token with 401 and
// stores the Identity in the request context:
//
//	id := auth.FromContext(r.Context())
//
// The WebSocket endpoint calls Authenticate directly so that a bad credential
// is rejected before the upgrade. Browsers that cannot set headers on a
// WebSocket handshake may pass the token as the access_token query parameter.
package auth
