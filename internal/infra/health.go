package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ServiceHealth represents the health state of a component.
type ServiceHealth string

const (
	ServiceHealthHealthy   ServiceHealth = "healthy"
	ServiceHealthUnhealthy ServiceHealth = "unhealthy"
	ServiceHealthDegraded  ServiceHealth = "degraded"
	ServiceHealthUnknown   ServiceHealth = "unknown"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Name      string            `json:"name"`
	Status    ServiceHealth     `json:"status"`
	Message   string            `json:"message,omitempty"`
	Latency   time.Duration     `json:"latency_ms"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON customizes JSON marshaling for HealthCheckResult.
func (r HealthCheckResult) MarshalJSON() ([]byte, error) {
	type Alias HealthCheckResult
	return json.Marshal(&struct {
		Alias
		LatencyMS int64 `json:"latency_ms"`
	}{
		Alias:     Alias(r),
		LatencyMS: r.Latency.Milliseconds(),
	})
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheckResult

// HealthCheckConfig configures a health check.
type HealthCheckConfig struct {
	// Name identifies this health check.
	Name string

	// Timeout is the maximum time for the check.
	Timeout time.Duration

	// Critical indicates if this check failing should mark the service unhealthy.
	// Non-critical failures only degrade it.
	Critical bool

	// Checker is the function that performs the check.
	Checker HealthChecker
}

// HealthCheckRegistry manages health checks for a service.
type HealthCheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]HealthCheckConfig
}

// NewHealthCheckRegistry creates a new health check registry.
func NewHealthCheckRegistry() *HealthCheckRegistry {
	return &HealthCheckRegistry{checks: make(map[string]HealthCheckConfig)}
}

// Register registers a health check.
func (r *HealthCheckRegistry) Register(config HealthCheckConfig) {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[config.Name] = config
}

// RegisterSimple registers a critical check that fails when checker errors.
func (r *HealthCheckRegistry) RegisterSimple(name string, checker func(ctx context.Context) error) {
	r.Register(HealthCheckConfig{
		Name:     name,
		Critical: true,
		Checker: func(ctx context.Context) HealthCheckResult {
			result := HealthCheckResult{Name: name, Status: ServiceHealthHealthy, Timestamp: time.Now()}
			if err := checker(ctx); err != nil {
				result.Status = ServiceHealthUnhealthy
				result.Message = err.Error()
			}
			return result
		},
	})
}

// RegisterBreaker registers a non-critical check reporting cb's state. An
// open breaker degrades the service; sink outages never make it unhealthy.
func (r *HealthCheckRegistry) RegisterBreaker(cb *CircuitBreaker) {
	r.Register(HealthCheckConfig{
		Name:    "breaker." + cb.Name(),
		Checker: BreakerChecker(cb),
	})
}

// Check runs a specific health check.
func (r *HealthCheckRegistry) Check(ctx context.Context, name string) (HealthCheckResult, bool) {
	r.mu.RLock()
	config, ok := r.checks[name]
	r.mu.RUnlock()
	if !ok {
		return HealthCheckResult{}, false
	}
	return r.runCheck(ctx, config), true
}

// CheckAll runs all health checks concurrently. Results are sorted by name.
func (r *HealthCheckRegistry) CheckAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make([]HealthCheckConfig, 0, len(r.checks))
	for _, config := range r.checks {
		checks = append(checks, config)
	}
	r.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	results := make([]HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for i, config := range checks {
		wg.Add(1)
		go func(idx int, cfg HealthCheckConfig) {
			defer wg.Done()
			results[idx] = r.runCheck(ctx, cfg)
		}(i, config)
	}
	wg.Wait()

	return buildReport(checks, results)
}

// runCheck runs a single health check with timeout.
func (r *HealthCheckRegistry) runCheck(ctx context.Context, config HealthCheckConfig) HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan HealthCheckResult, 1)
	go func() {
		result := config.Checker(checkCtx)
		result.Name = config.Name
		result.Latency = time.Since(start)
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result
	case <-checkCtx.Done():
		return HealthCheckResult{
			Name:      config.Name,
			Status:    ServiceHealthUnhealthy,
			Message:   "health check timed out",
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
	}
}

func buildReport(checks []HealthCheckConfig, results []HealthCheckResult) HealthReport {
	report := HealthReport{
		Status:    ServiceHealthHealthy,
		Timestamp: time.Now(),
		Checks:    results,
	}
	for i, result := range results {
		critical := checks[i].Critical
		switch result.Status {
		case ServiceHealthUnhealthy:
			if critical {
				report.Status = ServiceHealthUnhealthy
			} else if report.Status == ServiceHealthHealthy {
				report.Status = ServiceHealthDegraded
			}
		case ServiceHealthDegraded:
			if report.Status == ServiceHealthHealthy {
				report.Status = ServiceHealthDegraded
			}
		case ServiceHealthUnknown:
			if critical && report.Status == ServiceHealthHealthy {
				report.Status = ServiceHealthUnknown
			}
		}
	}
	return report
}

// HealthReport is a complete health report.
type HealthReport struct {
	Status    ServiceHealth       `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Checks    []HealthCheckResult `json:"checks"`
}

// IsHealthy returns true if the overall status is healthy.
func (r HealthReport) IsHealthy() bool {
	return r.Status == ServiceHealthHealthy
}

// FailedChecks returns checks that are not healthy.
func (r HealthReport) FailedChecks() []HealthCheckResult {
	var failed []HealthCheckResult
	for _, check := range r.Checks {
		if check.Status != ServiceHealthHealthy {
			failed = append(failed, check)
		}
	}
	return failed
}

// BreakerChecker reports a closed breaker as healthy, half-open as degraded
// and open as unhealthy.
func BreakerChecker(cb *CircuitBreaker) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		stats := cb.Stats()
		result := HealthCheckResult{
			Timestamp: time.Now(),
			Metadata: map[string]string{
				"state":    string(stats.State),
				"failures": fmt.Sprint(stats.Failures),
			},
		}
		switch stats.State {
		case CircuitOpen:
			result.Status = ServiceHealthUnhealthy
			result.Message = "circuit open"
		case CircuitHalfOpen:
			result.Status = ServiceHealthDegraded
			result.Message = "circuit half-open"
		default:
			result.Status = ServiceHealthHealthy
		}
		return result
	}
}
