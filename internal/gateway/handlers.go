package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

// Header names carrying the conversation identity.
const (
	HeaderSessionID  = "X-Session-ID"
	HeaderCustomerID = "X-Customer-ID"
	HeaderRequestID  = "X-Request-ID"
)

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.tools.List()
	out := make([]toolInfo, len(tools))
	for i, t := range tools {
		out[i] = toolInfo{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.tools.Get(name); !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "tool not found: " + name})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, agent.MaxToolParamsSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	ctx := r.Context()
	if id := strings.TrimSpace(r.Header.Get(HeaderSessionID)); id != "" {
		ctx = observability.AddSessionID(ctx, id)
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderCustomerID)); id != "" {
		ctx = observability.AddCustomerID(ctx, id)
	}

	result, err := s.tools.Execute(ctx, name, body)
	if err != nil {
		s.logger.Error(ctx, "tool execution failed", "tool", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "tool execution failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.CheckAll(r.Context())
	status := http.StatusOK
	if report.Status == infra.ServiceHealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
