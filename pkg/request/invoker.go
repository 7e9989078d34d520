package request

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/memory"
	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// Result is a successful (2xx) upstream response.
type Result struct {
	Status int
	Header http.Header
	// Body is the decoded JSON body when IsJSON is set, otherwise nil.
	Body   any
	Raw    []byte
	IsJSON bool
}

// Text returns the response body as text.
func (r *Result) Text() string {
	return string(r.Raw)
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func (e *HTTPError) Type() server.ErrorType { return server.ErrorTypeHTTP }

// TransportError is a failure to get any response from the upstream API:
// connection errors, TLS errors, timeouts and oversized responses.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return "upstream request timed out: " + e.Err.Error()
	}
	return "upstream request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Type() server.ErrorType { return server.ErrorTypeTransport }

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	InsecureTLS      bool
	// Transport replaces the default transport, mainly for tests.
	Transport http.RoundTripper
}

// Invoker executes built requests. It does not retry.
type Invoker struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	log      *zap.Logger
}

// NewInvoker creates an invoker with its own connection pool.
func NewInvoker(opts InvokerOptions, log *zap.Logger) *Invoker {
	base := opts.Transport
	if base == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via IGNORE_SSL_TOOLS
		}
		base = transport
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Invoker{
		client:   &http.Client{Transport: NewLoggingRoundTripper(base, log)},
		timeout:  timeout,
		maxBytes: opts.MaxResponseBytes,
		log:      log,
	}
}

// Invoke sends req and classifies the response. Non-2xx responses return an
// *HTTPError; failures to get a response return a *TransportError.
func (i *Invoker) Invoke(ctx context.Context, req *BuiltRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeInvalidArgument, "failed to create upstream request")
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err, Timeout: errors.Is(err, context.DeadlineExceeded) || isTimeout(err)}
	}
	defer resp.Body.Close()

	raw, err := memory.ReadAll(resp.Body, i.maxBytes)
	if err != nil {
		return nil, &TransportError{Err: err, Timeout: errors.Is(err, context.DeadlineExceeded)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		i.log.Debug("upstream returned an error status",
			zap.String("tool", req.ToolName), zap.Int("status", resp.StatusCode))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	result := &Result{
		Status: resp.StatusCode,
		Header: resp.Header,
		Raw:    raw,
	}
	if len(raw) > 0 && isJSONContentType(resp.Header.Get("Content-Type")) {
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			i.log.Warn("response declared JSON but does not parse, returning text",
				zap.String("tool", req.ToolName), zap.Error(err))
		} else {
			result.Body = body
			result.IsJSON = true
		}
	}
	return result, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
