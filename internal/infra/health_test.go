package infra

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHealthCheckRegistry_RegisterSimple(t *testing.T) {
	r := NewHealthCheckRegistry()
	r.RegisterSimple("db", func(ctx context.Context) error { return nil })
	r.RegisterSimple("broker", func(ctx context.Context) error { return errors.New("connection refused") })

	db, ok := r.Check(context.Background(), "db")
	if !ok || db.Status != ServiceHealthHealthy {
		t.Errorf("db = %+v", db)
	}
	broker, _ := r.Check(context.Background(), "broker")
	if broker.Status != ServiceHealthUnhealthy || broker.Message != "connection refused" {
		t.Errorf("broker = %+v", broker)
	}
	if _, ok := r.Check(context.Background(), "missing"); ok {
		t.Error("unknown check should not be found")
	}
}

func TestHealthCheckRegistry_CheckTimeout(t *testing.T) {
	r := NewHealthCheckRegistry()
	r.Register(HealthCheckConfig{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Checker: func(ctx context.Context) HealthCheckResult {
			time.Sleep(200 * time.Millisecond)
			return HealthCheckResult{Status: ServiceHealthHealthy}
		},
	})

	result, _ := r.Check(context.Background(), "slow")
	if result.Status != ServiceHealthUnhealthy || result.Message != "health check timed out" {
		t.Errorf("result = %+v", result)
	}
}

func TestHealthCheckRegistry_CheckAll(t *testing.T) {
	healthy := func(ctx context.Context) HealthCheckResult { return HealthCheckResult{Status: ServiceHealthHealthy} }
	unhealthy := func(ctx context.Context) HealthCheckResult { return HealthCheckResult{Status: ServiceHealthUnhealthy} }

	tests := []struct {
		name   string
		checks []HealthCheckConfig
		want   ServiceHealth
	}{
		{
			name:   "all healthy",
			checks: []HealthCheckConfig{{Name: "a", Critical: true, Checker: healthy}, {Name: "b", Checker: healthy}},
			want:   ServiceHealthHealthy,
		},
		{
			name:   "non-critical failure degrades",
			checks: []HealthCheckConfig{{Name: "a", Critical: true, Checker: healthy}, {Name: "b", Checker: unhealthy}},
			want:   ServiceHealthDegraded,
		},
		{
			name:   "critical failure",
			checks: []HealthCheckConfig{{Name: "a", Critical: true, Checker: unhealthy}, {Name: "b", Checker: unhealthy}},
			want:   ServiceHealthUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHealthCheckRegistry()
			for _, c := range tt.checks {
				r.Register(c)
			}
			report := r.CheckAll(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Checks) != 2 || report.Checks[0].Name != "a" || report.Checks[1].Name != "b" {
				t.Errorf("checks not sorted by name: %+v", report.Checks)
			}
			if report.IsHealthy() != (tt.want == ServiceHealthHealthy) {
				t.Errorf("IsHealthy() = %v", report.IsHealthy())
			}
		})
	}
}

func TestRegisterBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "row",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Now:              func() time.Time { return now },
	})
	r := NewHealthCheckRegistry()
	r.RegisterBreaker(cb)

	report := r.CheckAll(context.Background())
	if report.Status != ServiceHealthHealthy {
		t.Fatalf("closed breaker status = %s", report.Status)
	}

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	report = r.CheckAll(context.Background())
	if report.Status != ServiceHealthDegraded {
		t.Errorf("open breaker should degrade, got %s", report.Status)
	}
	failed := report.FailedChecks()
	if len(failed) != 1 || failed[0].Name != "breaker.row" || failed[0].Metadata["state"] != "open" {
		t.Errorf("failed checks = %+v", failed)
	}
}

func TestHealthCheckResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(HealthCheckResult{Name: "db", Status: ServiceHealthHealthy, Latency: 1500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"latency_ms":1500`) {
		t.Errorf("json = %s", data)
	}
}
