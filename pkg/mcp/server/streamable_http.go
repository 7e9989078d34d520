package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/mcp"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/memory"
	appserver "github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

const (
	headerKeySessionID = "Mcp-Session-Id"

	// compressThreshold is the response size above which gzip is used when
	// the client accepts it.
	compressThreshold = 1024

	maxRequestBytes = 4 << 20

	// DefaultSessionIdleTimeout closes sessions that have not sent a message
	// for this long.
	DefaultSessionIdleTimeout = 30 * time.Minute
	// SessionCleanupInterval is how often idle sessions are looked for.
	SessionCleanupInterval = 5 * time.Minute
)

// AdapterFactory creates the protocol adapter of a new session.
type AdapterFactory func() *Adapter

// ToolLister lists the tools served by GET /tools and counted by /health.
// Every Presenter is a ToolLister.
type ToolLister interface {
	ListTools() []mcpgo.Tool
}

// HTTPContextFunc customises the context of a request before it is handled.
type HTTPContextFunc func(ctx context.Context, r *http.Request) context.Context

// StreamableHTTPOption defines a function type for configuring StreamableHTTPServer
type StreamableHTTPOption func(*StreamableHTTPServer)

// WithEndpointPath sets the endpoint path for the server.
// The default is "/mcp".
func WithEndpointPath(endpointPath string) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.endpointPath = "/" + strings.Trim(endpointPath, "/")
	}
}

// WithSessionIdManager sets a custom session id generator for the server.
func WithSessionIdManager(manager SessionIdManager) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.sessionIdManager = manager
	}
}

// WithSessionIdleTimeout sets how long a session may stay silent before it is closed.
func WithSessionIdleTimeout(timeout time.Duration) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.idleTimeout = timeout
	}
}

// WithCleanupInterval sets how often idle sessions are looked for.
func WithCleanupInterval(interval time.Duration) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.cleanupInterval = interval
	}
}

// WithHTTPContextFunc sets a function that will be called to customise the context
// to the server using the incoming request.
func WithHTTPContextFunc(fn HTTPContextFunc) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.contextFunc = fn
	}
}

// WithToolLister sets the source of the /tools listing and the /health tool
// count. Without one both report no tools.
func WithToolLister(lister ToolLister) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.tools = lister
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *zap.Logger) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.logger = logger
	}
}

// StreamableHTTPServer serves MCP over HTTP POST with one Adapter per
// Mcp-Session-Id. initialize creates the session and returns its id in the
// response header; every later request must carry it.
//
// Usage:
//
//	server := NewStreamableHTTPServer(newAdapter, WithToolLister(presenter))
//	server.Start(":8080") // clients use http://host:8080/mcp
//
// Besides the MCP endpoint, Handler serves GET /tools (a compact tool listing)
// and GET /health.
//
// Batches and server to client streams are not supported.
type StreamableHTTPServer struct {
	newSession AdapterFactory
	tools      ToolLister
	sessions   sync.Map // session id -> *Adapter

	httpServer *http.Server
	closed     bool
	mu         sync.RWMutex

	endpointPath     string
	contextFunc      HTTPContextFunc
	sessionIdManager SessionIdManager
	idleTimeout      time.Duration
	cleanupInterval  time.Duration
	logger           *zap.Logger

	// Session cleanup
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// NewStreamableHTTPServer creates a new streamable-http server instance and
// starts its idle session cleanup.
func NewStreamableHTTPServer(newSession AdapterFactory, opts ...StreamableHTTPOption) *StreamableHTTPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &StreamableHTTPServer{
		newSession:       newSession,
		endpointPath:     "/mcp",
		sessionIdManager: &UUIDSessionIdManager{},
		idleTimeout:      DefaultSessionIdleTimeout,
		cleanupInterval:  SessionCleanupInterval,
		logger:           zap.NewNop(),
		cleanupCtx:       ctx,
		cleanupCancel:    cancel,
		cleanupDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.runSessionCleanup()
	return s
}

// Handler returns the full HTTP surface: the MCP endpoint, /tools and /health.
func (s *StreamableHTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.endpointPath, s)
	mux.HandleFunc("/tools", s.handleToolsAPI)
	mux.HandleFunc("/health", appserver.HandleHealth(s.logger, s.healthStats))
	return mux
}

// ServeHTTP implements the http.Handler interface for the MCP endpoint.
func (s *StreamableHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logIncomingRequest(r)

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	case http.MethodGet:
		if strings.HasSuffix(r.URL.Path, "/tools") {
			s.handleToolsAPI(w, r)
			return
		}
		http.Error(w, "server to client streams are not supported", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

// Start begins serving HTTP requests on addr. It blocks until the server stops
// and returns nil after a graceful Shutdown, including one that happened
// before Start was called.
func (s *StreamableHTTPServer) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("MCP HTTP server listening",
		zap.String("endpoint", normalizeAddrToHost(addr)+s.endpointPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the cleanup goroutine, closes every session and gracefully
// shuts down the HTTP server.
func (s *StreamableHTTPServer) Shutdown(ctx context.Context) error {
	s.cleanupCancel()
	select {
	case <-s.cleanupDone:
	case <-ctx.Done():
	}

	s.sessions.Range(func(key, value any) bool {
		value.(*Adapter).Close()
		s.sessions.Delete(key)
		return true
	})

	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *StreamableHTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		http.Error(w, "Invalid content type: must be 'application/json'", http.StatusBadRequest)
		return
	}

	rawData, err := memory.ReadAll(r.Body, maxRequestBytes)
	if err != nil {
		s.writeJSONRPCError(w, nil, mcp.CodeParseError, fmt.Sprintf("read request body error: %v", err))
		return
	}

	req, rpcErr := mcp.ParseRequest(rawData)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		s.writeJSONRPCError(w, id, rpcErr.Code, rpcErr.Message)
		return
	}

	isInitializeRequest := req.Method == mcp.MethodInitialize
	var sessionID string
	var adapter *Adapter
	if isInitializeRequest {
		sessionID = s.sessionIdManager.Generate()
		adapter = s.newSession()
		s.sessions.Store(sessionID, adapter)
	} else {
		sessionID = r.Header.Get(headerKeySessionID)
		adapter, err = s.lookupSession(sessionID)
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, ErrInvalidSessionID) {
				status = http.StatusBadRequest
			}
			s.logger.Debug("rejected request", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, err.Error(), status)
			return
		}
	}

	ctx := r.Context()
	if s.contextFunc != nil {
		ctx = s.contextFunc(ctx, r)
	}

	response := adapter.HandleRequest(ctx, req)
	if isInitializeRequest && (response == nil || response.Error != nil) {
		s.sessions.Delete(sessionID)
		sessionID = ""
	}
	if response == nil {
		// For notifications, just send 202 Accepted with no body
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if ctx.Err() != nil {
		return
	}

	responseData, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if isInitializeRequest && sessionID != "" {
		// send the session ID back to the client
		w.Header().Set(headerKeySessionID, sessionID)
	}
	s.writeBody(w, r, responseData)
}

func (s *StreamableHTTPServer) lookupSession(sessionID string) (*Adapter, error) {
	if sessionID == "" {
		return nil, NewInvalidSessionError("")
	}
	if err := s.sessionIdManager.Validate(sessionID); err != nil {
		return nil, err
	}
	value, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, NewSessionNotFoundError(sessionID)
	}
	return value.(*Adapter), nil
}

// writeBody writes data with status 200, gzip compressed when it is larger
// than compressThreshold and the client accepts gzip.
func (s *StreamableHTTPServer) writeBody(w http.ResponseWriter, r *http.Request, data []byte) {
	if len(data) > compressThreshold && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusOK)

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := gz.Write(data); err != nil {
			s.logger.Warn("compression error", zap.Error(err))
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *StreamableHTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	// delete request terminate the session
	sessionID := r.Header.Get(headerKeySessionID)
	adapter, err := s.lookupSession(sessionID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ErrInvalidSessionID) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Session termination failed: %v", err), status)
		return
	}
	adapter.Close()
	s.sessions.Delete(sessionID)
	s.logger.Info("session terminated by client", zap.String("session_id", sessionID))
	w.WriteHeader(http.StatusOK)
}

// writeJSONRPCError writes a JSON-RPC error response with the given error details.
func (s *StreamableHTTPServer) writeJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	response := mcp.NewErrorResponse(id, mcp.NewError(code, message))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("failed to write JSON-RPC error", zap.Error(err))
	}
}

// --- session cleanup ---

// runSessionCleanup runs a background goroutine to close idle sessions
func (s *StreamableHTTPServer) runSessionCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupCtx.Done():
			return
		case <-ticker.C:
			s.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions closes and removes idle sessions
func (s *StreamableHTTPServer) cleanupExpiredSessions() {
	var expired []string
	total := 0
	s.sessions.Range(func(key, value any) bool {
		total++
		if time.Since(value.(*Adapter).LastActive()) > s.idleTimeout {
			expired = append(expired, key.(string))
		}
		return true
	})

	for _, sessionID := range expired {
		if value, ok := s.sessions.LoadAndDelete(sessionID); ok {
			s.logger.Info("cleaning up idle session", zap.String("session_id", sessionID))
			value.(*Adapter).Close()
		}
	}

	if len(expired) > 0 {
		s.logger.Info("session health",
			zap.Int("active", total-len(expired)),
			zap.Int("expired", len(expired)))
	}
}

// SessionCount returns the number of open sessions.
func (s *StreamableHTTPServer) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *StreamableHTTPServer) listTools() []mcpgo.Tool {
	if s.tools == nil {
		return nil
	}
	return s.tools.ListTools()
}

func (s *StreamableHTTPServer) healthStats() (tools, sessions int) {
	return len(s.listTools()), s.SessionCount()
}

// --- session id manager ---

// SessionIdManager generates and checks session ids.
type SessionIdManager interface {
	Generate() string
	// Validate returns an error wrapping ErrInvalidSessionID when the id is malformed.
	Validate(sessionID string) error
}

// UUIDSessionIdManager generates "mcp-session-<uuid>" ids. It only checks the
// format, so ids are unguessable but not authenticated.
type UUIDSessionIdManager struct{}

const idPrefix = "mcp-session-"

func (m *UUIDSessionIdManager) Generate() string {
	return idPrefix + uuid.New().String()
}

func (m *UUIDSessionIdManager) Validate(sessionID string) error {
	if !strings.HasPrefix(sessionID, idPrefix) {
		return NewInvalidSessionError(sessionID)
	}
	if _, err := uuid.Parse(sessionID[len(idPrefix):]); err != nil {
		return NewInvalidSessionError(sessionID)
	}
	return nil
}

// --- tools API ---

// ToolSummary is the compact form served by GET /tools.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleToolsAPI lists the tools a session would see. Query parameters:
// compact=false returns full tool definitions, limit=N truncates the list.
func (s *StreamableHTTPServer) handleToolsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		appserver.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	allTools := s.listTools()
	if allTools == nil {
		allTools = []mcpgo.Tool{}
	}
	tools := allTools

	query := r.URL.Query()
	compactParam := query.Get("compact")
	compact := compactParam == "" || compactParam == "true"
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 && len(tools) > limit {
		tools = tools[:limit]
		w.Header().Set("X-Total-Tools", strconv.Itoa(len(allTools)))
		w.Header().Set("X-Returned-Tools", strconv.Itoa(limit))
	}

	var responseData []byte
	var err error
	if compact {
		summaries := make([]ToolSummary, len(tools))
		for i, tool := range tools {
			summaries[i] = ToolSummary{Name: tool.Name, Description: stripControlChars(tool.Description)}
		}
		responseData, err = json.Marshal(summaries)
	} else {
		responseData, err = json.Marshal(tools)
	}
	if err != nil {
		appserver.WriteJSONError(w, fmt.Sprintf("failed to serialize tools: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	s.writeBody(w, r, responseData)
}

// stripControlChars drops control characters other than tab, newline and
// carriage return.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// logIncomingRequest logs incoming HTTP requests with credentials masked
func (s *StreamableHTTPServer) logIncomingRequest(r *http.Request) {
	ce := s.logger.Check(zap.DebugLevel, "incoming MCP request")
	if ce == nil {
		return
	}
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		value := strings.Join(values, ", ")
		lower := strings.ToLower(name)
		if strings.Contains(lower, "auth") || strings.Contains(lower, "key") ||
			strings.Contains(lower, "token") || strings.Contains(lower, "cookie") {
			value = appserver.MaskSecret(value)
		}
		headers[name] = value
	}
	ce.Write(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.String("session_id", r.Header.Get(headerKeySessionID)),
		zap.Any("headers", headers),
	)
}

// normalizeAddrToHost turns a listen address such as ":8080" into a URL a
// client can use.
func normalizeAddrToHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
