// Package health reports whether the broker behind a connector can be reached.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/glimte/celery-amqp-go/contracts"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Fatal     bool           `json:"fatal,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Fail marks the result unhealthy and classifies err with contracts.KindOf
func (r *CheckResult) Fail(message string, err error) {
	r.Status = StatusUnhealthy
	r.Message = message
	r.Error = err.Error()
	r.Kind = contracts.KindOf(err).String()
	r.Fatal = contracts.IsFatal(err)
}

// OverallHealth aggregates every registered check. Failures maps the name of each
// failed check to its error kind; Fatal is set when one of them cannot recover by
// retrying, such as a misconfigured broker URL.
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Fatal     bool                   `json:"fatal,omitempty"`
	Failures  map[string]string      `json:"failures,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
}

func (h *OverallHealth) add(name string, res CheckResult) {
	h.Checks[name] = res
	h.Status = worst(h.Status, res.Status)

	if res.Status != StatusUnhealthy {
		return
	}
	if h.Failures == nil {
		h.Failures = make(map[string]string)
	}
	kind := res.Kind
	if kind == "" {
		kind = contracts.KindTransport.String()
	}
	h.Failures[name] = kind
	h.Fatal = h.Fatal || res.Fatal
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// CheckerFunc adapts a function to Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

func (c *CheckerFunc) Name() string {
	return c.name
}

// Registry holds the checks served by Handler
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
	}
}

// Register adds a health checker, replacing one with the same name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// snapshot returns the registered checkers ordered by name
func (r *Registry) snapshot() []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	sort.Slice(checkers, func(i, j int) bool {
		return checkers[i].Name() < checkers[j].Name()
	})
	return checkers
}

// Check runs all checks concurrently. Checks still running when ctx is done fail
// with the context's error.
func (r *Registry) Check(ctx context.Context) OverallHealth {
	start := time.Now()
	checkers := r.snapshot()

	type outcome struct {
		name   string
		result CheckResult
	}
	done := make(chan outcome, len(checkers))

	for _, checker := range checkers {
		go func(checker Checker) {
			done <- outcome{name: checker.Name(), result: checker.Check(ctx)}
		}(checker)
	}

	report := OverallHealth{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	for len(report.Checks) < len(checkers) {
		select {
		case o := <-done:
			report.add(o.name, o.result)
			continue
		case <-ctx.Done():
		}

		for _, checker := range checkers {
			name := checker.Name()
			if _, ok := report.Checks[name]; ok {
				continue
			}
			res := CheckResult{
				Name:      name,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
			res.Fail("check timed out", ctx.Err())
			report.add(name, res)
		}
	}

	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

func worst(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Handler serves the registry as JSON. Unhealthy maps to 503, with a Retry-After
// header unless a failure is fatal.
type Handler struct {
	registry   *Registry
	timeout    time.Duration
	retryAfter time.Duration
}

// NewHandler creates a new health check HTTP handler. Each request runs the checks
// bounded by timeout.
func NewHandler(registry *Registry, timeout time.Duration) *Handler {
	return &Handler{
		registry:   registry,
		timeout:    timeout,
		retryAfter: 5 * time.Second,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.registry.Check(ctx)

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		if !report.Fatal {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter/time.Second)))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		http.Error(w, "Failed to encode health response", http.StatusInternalServerError)
	}
}
