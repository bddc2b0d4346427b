// Package streaminghttp exposes the relay protocol over HTTP against a
// single logical endpoint path.
//
//   - POST without a session header and an initialize payload creates a
//     session and returns its identifier in the Relay-Session-Id response
//     header.
//   - POST with a session header dispatches a call, notification, or reply
//     into that session's duplex channel.
//   - GET with a session header attaches the session's single
//     server-to-client event stream (text/event-stream), optionally resuming
//     from a Last-Event-ID cursor.
//   - DELETE with a session header terminates the session; idempotent.
//
// The handler also serves GET /healthz (read-only liveness stats) and
// GET /metrics (Prometheus).
package streaminghttp
