package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

type contextTool struct{}

func (contextTool) Name() string            { return "whoami" }
func (contextTool) Description() string     { return "echo the request identity" }
func (contextTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (contextTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return agent.JSONResult(map[string]string{
		"session":  observability.GetSessionID(ctx),
		"customer": observability.GetCustomerID(ctx),
		"request":  observability.GetRequestID(ctx),
		"params":   string(params),
	})
}

type failingTool struct{}

func (failingTool) Name() string            { return "broken" }
func (failingTool) Description() string     { return "always fails" }
func (failingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (failingTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return nil, errors.New("store unreachable")
}

func newTestServer(t *testing.T, health *infra.HealthCheckRegistry) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	tools := agent.NewToolRegistry(agent.WithMetrics(metrics))
	tools.Register(contextTool{})
	tools.Register(failingTool{})

	s := New(Config{}, Options{Tools: tools, Health: health, Metrics: metrics, Gatherer: registry})
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return server, registry
}

func TestExecuteTool_PassesIdentity(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/tools/whoami", strings.NewReader(`{"x":1}`))
	req.Header.Set(HeaderSessionID, "abc")
	req.Header.Set(HeaderCustomerID, "CUST009")
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderRequestID) != "req-42" {
		t.Errorf("request id header = %q", resp.Header.Get(HeaderRequestID))
	}

	var result agent.ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(result.Content), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"session": "abc", "customer": "CUST009", "request": "req-42", "params": `{"x":1}`}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestExecuteTool_Errors(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown tool", path: "/v1/tools/missing", body: `{}`, status: http.StatusNotFound},
		{name: "tool failure", path: "/v1/tools/broken", body: `{}`, status: http.StatusInternalServerError},
		{name: "oversized body", path: "/v1/tools/whoami", body: strings.Repeat("x", agent.MaxToolParamsSize+1), status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestExecuteTool_EmptyBody(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Post(server.URL+"/v1/tools/whoami", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var result agent.ToolResult
	_ = json.NewDecoder(resp.Body).Decode(&result)
	if !strings.Contains(result.Content, `"params":"{}"`) {
		t.Errorf("content = %s", result.Content)
	}
}

func TestListTools(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/v1/tools")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 2 || body.Tools[0].Name != "broken" || body.Tools[1].Name != "whoami" {
		t.Errorf("tools = %+v", body.Tools)
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		check  func(ctx context.Context) error
		status int
	}{
		{name: "healthy", check: func(ctx context.Context) error { return nil }, status: http.StatusOK},
		{name: "unhealthy", check: func(ctx context.Context) error { return errors.New("db down") }, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := infra.NewHealthCheckRegistry()
			health.RegisterSimple("sessions", tt.check)
			server, _ := newTestServer(t, health)

			resp, err := http.Get(server.URL + "/healthz")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var report infra.HealthReport
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				t.Fatal(err)
			}
			if len(report.Checks) != 1 || report.Checks[0].Name != "sessions" {
				t.Errorf("checks = %+v", report.Checks)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp, err := http.Post(server.URL+"/v1/tools/whoami", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	text := string(data)
	if !strings.Contains(text, `servicedesk_tool_executions_total{status="success",tool_name="whoami"} 1`) {
		t.Errorf("tool execution metric missing:\n%s", text)
	}
	if !strings.Contains(text, `path="POST /v1/tools/{name}"`) {
		t.Errorf("http metric not labelled by route:\n%s", text)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, Options{Tools: agent.NewToolRegistry(), Gatherer: prometheus.NewRegistry()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if s.Addr() != "" {
		t.Error("Addr() should be empty after shutdown")
	}
}
