package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// JSONRPCVersion is the only JSON-RPC version spoken.
const JSONRPCVersion = "2.0"

// Error codes. The standard JSON-RPC codes come from mcp-go.
const (
	CodeParseError     = mcpgo.PARSE_ERROR
	CodeInvalidRequest = mcpgo.INVALID_REQUEST
	CodeMethodNotFound = mcpgo.METHOD_NOT_FOUND
	CodeInvalidParams  = mcpgo.INVALID_PARAMS
	CodeInternalError  = mcpgo.INTERNAL_ERROR
	// CodeNotInitialized is returned for requests received before initialize.
	CodeNotInitialized = -32002
)

// Methods handled by the proxy.
const (
	MethodInitialize    = string(mcpgo.MethodInitialize)
	MethodInitialized   = "notifications/initialized"
	MethodCancelled     = "notifications/cancelled"
	MethodPing          = string(mcpgo.MethodPing)
	MethodToolsList     = string(mcpgo.MethodToolsList)
	MethodToolsCall     = string(mcpgo.MethodToolsCall)
	MethodResourcesList = string(mcpgo.MethodResourcesList)
	MethodResourcesRead = string(mcpgo.MethodResourcesRead)
	MethodPromptsList   = string(mcpgo.MethodPromptsList)
	MethodPromptsGet    = string(mcpgo.MethodPromptsGet)
)

// LatestProtocolVersion is offered when the client requests an unknown version.
const LatestProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION

// SupportedProtocolVersions lists the versions accepted from clients.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

var nullID = json.RawMessage("null")

// Request is an incoming JSON-RPC message. ID is kept raw so it can be echoed
// back byte for byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outgoing JSON-RPC message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates a JSON-RPC error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewResult creates a success response for id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: responseID(id), Result: result}
}

// NewErrorResponse creates an error response for id. A missing id is sent as null.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: responseID(id), Error: err}
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return nullID
	}
	return id
}

// ParseRequest decodes one message. Batches are not supported.
func ParseRequest(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewError(CodeInvalidRequest, "empty message")
	}
	if trimmed[0] == '[' {
		return nil, NewError(CodeInvalidRequest, "batch requests are not supported")
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, NewError(CodeParseError, "parse error: "+err.Error())
	}
	if req.JSONRPC != JSONRPCVersion {
		return &req, NewError(CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return &req, NewError(CodeInvalidRequest, "method is required")
	}
	return &req, nil
}

// InitializeParams are the parameters of initialize.
type InitializeParams struct {
	ProtocolVersion string               `json:"protocolVersion"`
	Capabilities    map[string]any       `json:"capabilities,omitempty"`
	ClientInfo      mcpgo.Implementation `json:"clientInfo"`
}

// ListChangedCapability advertises a capability without change notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability advertises resources support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities is the capability set returned from initialize.
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string               `json:"protocolVersion"`
	Capabilities    ServerCapabilities   `json:"capabilities"`
	ServerInfo      mcpgo.Implementation `json:"serverInfo"`
	Instructions    string               `json:"instructions,omitempty"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams are the parameters of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams are the parameters of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// NegotiateVersion returns requested when it is supported, else the latest version.
func NegotiateVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}
