package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	appserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// State is the lifecycle state of a protocol session.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	Name      string
	Version   string
	Presenter Presenter
	// Registry backs the spec resource and the summarize prompt.
	Registry        *openapi2mcp.Registry
	EnableResources bool
	EnablePrompts   bool
	Instructions    string
}

// Adapter speaks the MCP request/response protocol for one client session.
// Handle may be called from several goroutines; every response is correlated
// with its request by id.
type Adapter struct {
	opts     AdapterOptions
	log      *zap.Logger
	state    atomic.Int32
	lastSeen atomic.Int64
	client   atomic.Pointer[mcpgo.Implementation]
}

// NewAdapter creates an uninitialized session.
func NewAdapter(opts AdapterOptions, log *zap.Logger) *Adapter {
	if opts.Name == "" {
		opts.Name = "mcp-openapi-proxy"
	}
	a := &Adapter{opts: opts, log: log}
	a.touch()
	return a
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// LastActive returns the time the session last received a message.
func (a *Adapter) LastActive() time.Time {
	return time.Unix(0, a.lastSeen.Load())
}

// ClientInfo returns the client implementation sent with initialize, if any.
func (a *Adapter) ClientInfo() (mcpgo.Implementation, bool) {
	info := a.client.Load()
	if info == nil {
		return mcpgo.Implementation{}, false
	}
	return *info, true
}

// Close moves the session to Closed. Later requests fail with "session closed".
func (a *Adapter) Close() {
	if prev := State(a.state.Swap(int32(StateClosed))); prev != StateClosed {
		a.log.Debug("session closed", zap.Stringer("previous_state", prev))
	}
}

func (a *Adapter) touch() {
	a.lastSeen.Store(time.Now().UnixNano())
}

// Handle decodes and processes one raw message. It returns nil when no
// response is due (notifications).
func (a *Adapter) Handle(ctx context.Context, data []byte) *mcp.Response {
	req, rpcErr := mcp.ParseRequest(data)
	if rpcErr != nil {
		a.log.Warn("rejected malformed message", zap.String("reason", rpcErr.Message))
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		return mcp.NewErrorResponse(id, rpcErr)
	}
	return a.HandleRequest(ctx, req)
}

// HandleRequest processes one decoded message. A failing request never ends
// the session: panics are recovered into an internal error for that id.
func (a *Adapter) HandleRequest(ctx context.Context, req *mcp.Request) (resp *mcp.Response) {
	a.touch()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic while handling request",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			resp = nil
			if !req.IsNotification() {
				resp = mcp.NewErrorResponse(req.ID, mcp.NewError(mcp.CodeInternalError, "internal error"))
			}
		}
	}()

	result, rpcErr := a.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return mcp.NewErrorResponse(req.ID, rpcErr)
	}
	return mcp.NewResult(req.ID, result)
}

func (a *Adapter) dispatch(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	state := a.State()
	switch {
	case state == StateClosed:
		return nil, mcp.NewError(mcp.CodeInvalidRequest, ErrSessionClosed.Error())
	case req.Method == mcp.MethodInitialize:
		return a.initialize(req)
	case state == StateUninitialized:
		if !req.IsNotification() {
			a.log.Debug("request before initialize", zap.String("method", req.Method))
		}
		return nil, mcp.NewError(mcp.CodeNotInitialized, ErrNotInitialized.Error())
	case req.IsNotification():
		a.log.Debug("notification", zap.String("method", req.Method))
		return nil, nil
	}

	switch req.Method {
	case mcp.MethodPing:
		return struct{}{}, nil
	case mcp.MethodToolsList:
		return &mcpgo.ListToolsResult{Tools: a.opts.Presenter.ListTools()}, nil
	case mcp.MethodToolsCall:
		return a.callTool(ctx, req)
	case mcp.MethodResourcesList:
		resources := []mcpgo.Resource{}
		if a.opts.EnableResources && a.opts.Registry != nil {
			resources = append(resources, specResource(a.opts.Registry.Document()))
		}
		return &mcpgo.ListResourcesResult{Resources: resources}, nil
	case mcp.MethodResourcesRead:
		return a.readResource(req)
	case mcp.MethodPromptsList:
		if !a.opts.EnablePrompts {
			break
		}
		return &mcpgo.ListPromptsResult{Prompts: []mcpgo.Prompt{summarizePrompt()}}, nil
	case mcp.MethodPromptsGet:
		if !a.opts.EnablePrompts {
			break
		}
		return a.getPrompt(req)
	}
	return nil, mcp.NewError(mcp.CodeMethodNotFound, "method not found: "+req.Method)
}

func (a *Adapter) initialize(req *mcp.Request) (any, *mcp.Error) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcp.NewError(mcp.CodeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady)) {
		if a.State() == StateClosed {
			return nil, mcp.NewError(mcp.CodeInvalidRequest, ErrSessionClosed.Error())
		}
		return nil, mcp.NewError(mcp.CodeInvalidRequest, ErrAlreadyInitialized.Error())
	}
	a.client.Store(&params.ClientInfo)

	version := mcp.NegotiateVersion(params.ProtocolVersion)
	a.log.Info("session initialized",
		zap.String("client", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("protocol_version", version))

	caps := mcp.ServerCapabilities{
		Tools:     &mcp.ListChangedCapability{},
		Resources: &mcp.ResourcesCapability{},
	}
	if a.opts.EnablePrompts {
		caps.Prompts = &mcp.ListChangedCapability{}
	}
	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      mcpgo.Implementation{Name: a.opts.Name, Version: a.opts.Version},
		Instructions:    a.opts.Instructions,
	}, nil
}

func (a *Adapter) callTool(ctx context.Context, req *mcp.Request) (any, *mcp.Error) {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "tool name is required")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	requestID := appserver.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = appserver.WithRequestID(ctx, requestID)
	}
	start := time.Now()
	result, err := a.opts.Presenter.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, a.callError(err)
	}
	a.log.Debug("tool call finished",
		zap.String("request_id", requestID),
		zap.String("tool", params.Name),
		zap.Bool("is_error", result.IsError),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// callError maps a failed tool call onto a JSON-RPC error.
func (a *Adapter) callError(err error) *mcp.Error {
	var serverErr *appserver.ServerError
	if !errors.As(err, &serverErr) {
		a.log.Error("tool call failed", zap.Error(err))
		return mcp.NewError(mcp.CodeInternalError, err.Error())
	}
	serverErr.LogError(a.log)

	code := mcp.CodeInternalError
	switch serverErr.Type {
	case appserver.ErrorTypeNotFound, appserver.ErrorTypeMissingArgument, appserver.ErrorTypeInvalidArgument:
		code = mcp.CodeInvalidParams
	}
	rpcErr := mcp.NewError(code, serverErr.Message)
	rpcErr.Data = map[string]string{
		"type":    string(serverErr.Type),
		"details": serverErr.Details,
	}
	return rpcErr
}

func (a *Adapter) readResource(req *mcp.Request) (any, *mcp.Error) {
	var params mcp.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "invalid resources/read params: "+err.Error())
	}
	if !a.opts.EnableResources || a.opts.Registry == nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, fmt.Sprintf("%v: %s", ErrResourceNotFound, params.URI))
	}
	result, err := readSpecResource(a.opts.Registry.Document(), params.URI)
	if err != nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, err.Error())
	}
	return result, nil
}

func (a *Adapter) getPrompt(req *mcp.Request) (any, *mcp.Error) {
	var params mcp.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, "invalid prompts/get params: "+err.Error())
	}
	if a.opts.Registry == nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, ErrPromptNotFound.Error())
	}
	result, err := getSummarizePrompt(a.opts.Registry, params.Name)
	if err != nil {
		return nil, mcp.NewError(mcp.CodeInvalidParams, err.Error())
	}
	return result, nil
}
