// Package mcp defines the JSON-RPC 2.0 envelopes and the Model Context
// Protocol payloads exchanged by the proxy.
//
// Tool, resource and prompt payloads reuse the types of
// github.com/mark3labs/mcp-go/mcp so the wire shape tracks the protocol
// revisions that library follows. This package adds what the proxy needs on
// top: request and response envelopes with raw ids, the initialize handshake
// payloads and the error codes not covered by the library.
//
// # Message Types
//
//   - Request: a call or a notification (no id)
//   - Response: a result or an Error, echoing the request id verbatim
//   - Error: a JSON-RPC error object, also usable as a Go error
//
// Use LatestProtocolVersion for the version offered when the client asks for
// one the proxy does not know.
package mcp
