package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Tools    int    `json:"tools"`
	Sessions int    `json:"sessions"`
}

// HandleHealth handles the /health endpoint for health checks
func HandleHealth(log *zap.Logger, stats func() (tools, sessions int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		response := HealthResponse{Status: "healthy", Service: "mcp-openapi-proxy"}
		if stats != nil {
			response.Tools, response.Sessions = stats()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Warn("failed to encode health response", zap.Error(err))
		}
	}
}

// WriteJSONError writes {"error": message} with the given status code.
func WriteJSONError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
