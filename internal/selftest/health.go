// Package selftest checks the bridge configuration and whether the robot
// gateway, the inference endpoint and the audio retrieval service answer.
package selftest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ComponentStatus represents health of a single component
type ComponentStatus struct {
	Status  string `json:"status"` // ok, degraded, error
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus represents overall bridge health
type HealthStatus struct {
	Status     string                     `json:"status"` // healthy, degraded, unhealthy
	Components map[string]ComponentStatus `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Check probes one dependency. A failing Optional check degrades health
// instead of making it unhealthy.
type Check struct {
	Name     string
	Run      func(ctx context.Context) error
	Optional bool
}

// SlowThreshold marks a passing check as degraded.
const SlowThreshold = 2 * time.Second

// CheckHealth runs every check concurrently.
func CheckHealth(ctx context.Context, checks []Check) *HealthStatus {
	status := &HealthStatus{
		Status:     "healthy",
		Components: make(map[string]ComponentStatus),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, c := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			result := run(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			status.Components[c.Name] = result
			switch {
			case result.Status == "error" && !c.Optional:
				status.Status = "unhealthy"
			case result.Status != "ok" && status.Status == "healthy":
				status.Status = "degraded"
			}
		}(c)
	}

	wg.Wait()
	return status
}

func run(ctx context.Context, c Check) (cs ComponentStatus) {
	start := time.Now()
	defer func() {
		cs.Latency = time.Since(start).Milliseconds()
		if rec := recover(); rec != nil {
			cs.Status = "error"
			cs.Error = "check panicked"
		}
	}()

	if err := c.Run(ctx); err != nil {
		return ComponentStatus{Status: "error", Error: err.Error()}
	}
	if time.Since(start) > SlowThreshold {
		return ComponentStatus{Status: "degraded"}
	}
	return ComponentStatus{Status: "ok"}
}

// Names returns the component names in a stable order.
func (h *HealthStatus) Names() []string {
	names := make([]string, 0, len(h.Components))
	for n := range h.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HealthHandler returns an HTTP handler that runs checks on every request.
func HealthHandler(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		status := CheckHealth(ctx, checks)

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(status)
	}
}
