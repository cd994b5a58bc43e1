// Package client is a Go client for microbe-gateway.
//
// # Overview
//
// Client wraps the HTTP API (login, user lookup, thread reads) and opens
// WebSocket sessions for the push-notify protocol.
//
//	c, err := client.New("http://localhost:8080")
//	if _, err := c.Login(ctx, "alice", "s3cret"); err != nil { ... }
//
//	sess, err := c.Connect(ctx)
//	defer sess.Close()
//	for ev := range sess.Events() {
//	    switch ev.Type {
//	    case client.EventDataReady:
//	        _ = sess.RequestData(ctx, nil)
//	    case client.EventData:
//	        render(ev.Bundle)
//	    }
//	}
//
// # Events
//
// A session yields these event types:
//
//   - dataReady: the view is stale; call RequestData
//   - data: a bundle answering RequestData
//   - sent: a send with a client message id was stored
//   - error: a request failed; Code says why
//
// The events channel closes when the connection ends. Err reports why.
package client
