// Package gateway orchestrates the microbe-gateway server components.
//
// # Overview
//
// The gateway owns the store, the conversation service, the session hub and
// the HTTP server. When Redis is configured it also owns the cross-process
// relay and the send rate limiter.
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    conversation *conversation.Service
//	    hub          *hub.Hub
//	    verifier     *auth.JWTVerifier
//	    dedupe       *dedupe.Cache
//	    relay        *relay.Redis       // optional
//	    limiter      ratelimit.Limiter  // optional
//	    // ...
//	}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// Run serves HTTP and the relay subscription in one errgroup. When either
// fails, or ctx ends, Shutdown runs with a fresh five second deadline. It
// cancels every request context, closes the hub (which ends every WebSocket
// connection) and closes Redis and the store.
//
// # WebSocket Protocol
//
// GET /ws upgrades after the bearer token (or access_token query parameter)
// verifies; otherwise the response is 401 and no upgrade happens. A joined
// connection receives frames of these types:
//
//	{"type":"dataReady"}
//	{"type":"data","username":"bob","threads":[...],"currentChat":[...]|null}
//	{"type":"sent","clientMessageId":"c1","messageId":42}
//	{"type":"error","code":"validation","message":"...","clientMessageId":"c1"}
//
// and may send:
//
//	{"type":"requestData","selectedUserId":2}
//	{"type":"sendMessage","content":"hi","toUserId":2,"clientMessageId":"c1"}
//
// dataReady carries no data. It tells the client that its view is stale and
// it should send requestData. Signals coalesce, so a burst of changes may
// produce a single dataReady. A successful send signals every session of
// both participants, on every instance when the relay is enabled.
//
// Error codes are bad_request, validation, rate_limited, duplicate and
// internal.
//
// # HTTP API
//
//	GET  /health                     liveness, always "OK"
//	GET  /health/ready               store ping plus session counts
//	POST /api/login                  username/password to token
//	GET  /api/users/lookup?username= find a chat partner
//	GET  /api/threads                thread summaries
//	GET  /api/threads/{id}/messages  open a thread (marks it read)
package gateway
