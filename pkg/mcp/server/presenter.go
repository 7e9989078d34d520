package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/openapi2mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/request"
	appserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// Generic invoker tool names.
const (
	ListFunctionsTool = "list_functions"
	CallFunctionTool  = "call_function"
)

// Presenter decides which tools a session sees and how a call reaches the
// dispatcher.
type Presenter interface {
	ListTools() []mcpgo.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)
}

// Dispatcher runs registry tools through the request builder and the invoker.
// Upstream failures become error results; argument and lookup failures are
// returned as errors so the protocol layer can report them as invalid params.
type Dispatcher struct {
	registry *openapi2mcp.Registry
	builder  *request.Builder
	invoker  *request.Invoker
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher over an immutable registry.
func NewDispatcher(reg *openapi2mcp.Registry, builder *request.Builder, invoker *request.Invoker, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		builder:  builder,
		invoker:  invoker,
		log:      log,
	}
}

// Registry returns the registry the dispatcher serves.
func (d *Dispatcher) Registry() *openapi2mcp.Registry {
	return d.registry
}

// Call invokes the named registry tool.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	tool, ok := d.registry.Lookup(name)
	if !ok {
		return nil, appserver.WrapWithContext(ctx, ErrToolNotFound, appserver.ErrorTypeNotFound, "unknown tool "+name)
	}

	req, err := d.builder.Build(ctx, tool, args)
	if err != nil {
		return nil, err
	}

	res, err := d.invoker.Invoke(ctx, req)
	if err != nil {
		var httpErr *request.HTTPError
		var transportErr *request.TransportError
		switch {
		case errors.As(err, &httpErr):
			d.log.Info("upstream error status",
				zap.String("request_id", appserver.RequestIDFromContext(ctx)),
				zap.String("tool", name),
				zap.String("error_type", string(httpErr.Type())),
				zap.Int("status", httpErr.Status))
			return mcpgo.NewToolResultError(httpErr.Error()), nil
		case errors.As(err, &transportErr):
			d.log.Warn("upstream transport failure",
				zap.String("request_id", appserver.RequestIDFromContext(ctx)),
				zap.String("tool", name),
				zap.String("error_type", string(transportErr.Type())),
				zap.Error(transportErr))
			return mcpgo.NewToolResultError("transport error: " + transportErr.Err.Error()), nil
		}
		return nil, err
	}
	return mcpgo.NewToolResultText(resultText(res)), nil
}

func resultText(res *request.Result) string {
	if len(res.Raw) == 0 {
		return fmt.Sprintf("HTTP %d", res.Status)
	}
	return res.Text()
}

// DynamicPresenter exposes one tool per registered operation.
type DynamicPresenter struct {
	dispatcher *Dispatcher
	tools      []mcpgo.Tool
}

// NewDynamicPresenter converts every registry tool into its wire form once.
func NewDynamicPresenter(d *Dispatcher, log *zap.Logger) *DynamicPresenter {
	defs := d.registry.List()
	tools := make([]mcpgo.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, wireTool(def, log))
	}
	return &DynamicPresenter{dispatcher: d, tools: tools}
}

func wireTool(def *openapi2mcp.ToolDefinition, log *zap.Logger) mcpgo.Tool {
	schema, err := json.Marshal(def.InputSchema)
	if err != nil {
		log.Warn("input schema is not serializable, exposing an empty object schema",
			zap.String("tool", def.Name), zap.Error(err))
		schema = []byte(`{"type":"object"}`)
	}
	return mcpgo.NewToolWithRawSchema(def.Name, def.Description, schema)
}

func (p *DynamicPresenter) ListTools() []mcpgo.Tool {
	return p.tools
}

func (p *DynamicPresenter) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	return p.dispatcher.Call(ctx, name, args)
}

// GenericInvokerPresenter exposes list_functions and call_function, which
// reach every registry tool by name.
type GenericInvokerPresenter struct {
	dispatcher *Dispatcher
}

// NewGenericInvokerPresenter creates the simple mode presenter.
func NewGenericInvokerPresenter(d *Dispatcher) *GenericInvokerPresenter {
	return &GenericInvokerPresenter{dispatcher: d}
}

var (
	listFunctionsSchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	callFunctionSchema  = json.RawMessage(`{
  "type": "object",
  "properties": {
    "toolName": {"type": "string", "description": "Name of the function, as returned by list_functions"},
    "arguments": {"type": "object", "description": "Arguments matching the function's inputSchema"}
  },
  "required": ["toolName"],
  "additionalProperties": false
}`)
)

func (p *GenericInvokerPresenter) ListTools() []mcpgo.Tool {
	return []mcpgo.Tool{
		mcpgo.NewToolWithRawSchema(ListFunctionsTool,
			"List the API functions available through call_function, with their input schemas.",
			listFunctionsSchema),
		mcpgo.NewToolWithRawSchema(CallFunctionTool,
			"Call an API function by name. Use list_functions to discover names and arguments.",
			callFunctionSchema),
	}
}

// FunctionInfo is one entry of the list_functions result.
type FunctionInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	OperationID string         `json:"operationId,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (p *GenericInvokerPresenter) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	switch name {
	case ListFunctionsTool:
		return p.listFunctions()
	case CallFunctionTool:
		target, targetArgs, err := callFunctionArguments(args)
		if err != nil {
			return nil, err
		}
		return p.dispatcher.Call(ctx, target, targetArgs)
	}
	return nil, appserver.WrapWithContext(ctx, ErrToolNotFound, appserver.ErrorTypeNotFound, "unknown tool "+name)
}

func (p *GenericInvokerPresenter) listFunctions() (*mcpgo.CallToolResult, error) {
	defs := p.dispatcher.registry.List()
	functions := make([]FunctionInfo, 0, len(defs))
	for _, def := range defs {
		functions = append(functions, FunctionInfo{
			Name:        def.Name,
			Description: def.Description,
			Method:      def.Operation.Method,
			Path:        def.Operation.Path,
			OperationID: def.Operation.OperationID,
			InputSchema: def.InputSchema,
		})
	}
	data, err := json.MarshalIndent(functions, "", "  ")
	if err != nil {
		return nil, appserver.Wrap(err, appserver.ErrorTypeInternal, "failed to encode function list")
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

// callFunctionArguments unpacks {toolName, arguments}. arguments may also be
// a JSON encoded object.
func callFunctionArguments(args map[string]any) (string, map[string]any, error) {
	target, ok := args["toolName"].(string)
	if !ok || target == "" {
		return "", nil, appserver.NewError(appserver.ErrorTypeMissingArgument,
			"missing required argument(s): toolName", CallFunctionTool)
	}

	switch v := args["arguments"].(type) {
	case nil:
		return target, map[string]any{}, nil
	case map[string]any:
		return target, v, nil
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return "", nil, appserver.NewError(appserver.ErrorTypeInvalidArgument,
				"invalid argument(s): arguments must be an object", err.Error())
		}
		return target, decoded, nil
	default:
		return "", nil, appserver.NewError(appserver.ErrorTypeInvalidArgument,
			"invalid argument(s): arguments must be an object", fmt.Sprintf("%T", v))
	}
}
