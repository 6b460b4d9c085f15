package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrDegraded marks a probe result that should degrade rather than fail
// readiness, such as a saturated connection pool.
var ErrDegraded = errors.New("degraded")

// Probe reports the state of one dependency. A nil error is healthy.
type Probe func(ctx context.Context) error

type probe struct {
	name     string
	required bool
	fn       Probe
}

// HealthChecker aggregates dependency probes for the readiness endpoint. A
// failing required probe makes the service unhealthy; a failing optional
// probe only degrades it.
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker creates a checker probing db (required) and redis
// (optional, it only carries snapshot invalidations). Either may be nil.
func NewHealthChecker(db *sql.DB, client *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddProbe("database", true, databaseProbe(db))
	}
	if client != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return h
}

// AddProbe registers an extra dependency check under name
func (h *HealthChecker) AddProbe(name string, required bool, fn Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, required: required, fn: fn})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Required  bool          `json:"required"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a required dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Check runs every probe in name order. The overall status is the worst
// impact, where a down optional dependency only degrades the service.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].name < probes[j].name })

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}
	for _, p := range probes {
		dep := runProbe(ctx, p)
		status.Dependencies[p.name] = dep
		impact := dep.Status
		if impact == StatusUnhealthy && !p.required {
			impact = StatusDegraded
		}
		if rank[impact] > rank[status.Status] {
			status.Status = impact
		}
	}
	return status
}

var rank = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func runProbe(ctx context.Context, p probe) DependencyStatus {
	start := time.Now()
	err := p.fn(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Required:  p.required,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		dep.Status = StatusUnhealthy
		if errors.Is(err, ErrDegraded) {
			dep.Status = StatusDegraded
		}
		dep.Message = err.Error()
	}
	return dep
}

func databaseProbe(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return fmt.Errorf("connection pool exhausted: %w", ErrDegraded)
		}
		return nil
	}
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
