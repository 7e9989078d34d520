package request

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/server"
	"go.uber.org/zap"
)

// sensitiveKeys are query parameters and headers whose values never reach the logs.
var sensitiveKeys = []string{"key", "token", "secret", "password", "auth", "signature", "credential", "cookie"}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// LoggingRoundTripper logs upstream requests with credentials masked.
type LoggingRoundTripper struct {
	base http.RoundTripper
	log  *zap.Logger
}

// NewLoggingRoundTripper wraps base, defaulting to http.DefaultTransport.
func NewLoggingRoundTripper(base http.RoundTripper, log *zap.Logger) *LoggingRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingRoundTripper{
		base: base,
		log:  log,
	}
}

// RoundTrip executes a single HTTP transaction and logs its outcome.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	if ce := t.log.Check(zap.DebugLevel, "upstream request"); ce != nil {
		fields := []zap.Field{
			zap.String("request_id", server.RequestIDFromContext(req.Context())),
			zap.String("method", req.Method),
			zap.String("url", maskURL(req.URL.String())),
			zap.Duration("duration", time.Since(start)),
			zap.Any("headers", maskHeaders(req.Header)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		ce.Write(fields...)
	}
	return resp, err
}

// maskURL masks the values of credential-like query parameters.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for k, vs := range q {
		if isSensitive(k) {
			for i := range vs {
				vs[i] = server.MaskSecret(vs[i])
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ", ")
		if isSensitive(k) || strings.EqualFold(k, "Authorization") {
			v = server.MaskSecret(v)
		}
		out[k] = v
	}
	return out
}
