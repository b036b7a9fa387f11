// Package gateway is the HTTP and WebSocket surface of the messaging core.
//
// The server side wires the store, messaging service and broadcaster behind
// a gin router: JSON endpoints for the messaging operations plus a /ws
// endpoint streaming delivery events for a conversation or user scope.
// Service error categories map onto status codes (validation 400,
// authorization 403, missing rows 404).
//
// The package also ships the matching remote consumer: Client provides a
// websocket realtime.Feed and an HTTP realtime.HistoryFetcher speaking the
// same JSON wire format, so a remote session can drive a Subscription
// exactly like an in-process one.
package gateway
