package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status             string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp          time.Time                   `json:"timestamp"`
	Uptime             string                      `json:"uptime"`
	BusOnline          bool                        `json:"bus_online"`
	CircuitBreaker     string                      `json:"circuit_breaker,omitempty"`
	LastSuccessfulPoll string                      `json:"last_successful_poll"`
	ErrorCount         int                         `json:"error_count"`
	SuccessCount       int                         `json:"success_count"`
	Instruments        map[string]InstrumentHealth `json:"instruments,omitempty"`
	Version            string                      `json:"version,omitempty"`
}

// InstrumentHealth is the per-instrument part of the health response
type InstrumentHealth struct {
	Address           int    `json:"address"`
	State             string `json:"state"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastError         string `json:"last_error,omitempty"`
}

// HealthChecker provides bus health; *health.BusHealthMonitor implements it
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetErrorCount() int
	GetSuccessCount() int
}

// InstrumentReporter optionally adds per-instrument state to the response
type InstrumentReporter interface {
	InstrumentHealth() map[string]InstrumentHealth
}

// BreakerReporter optionally adds the circuit breaker state to the response
type BreakerReporter interface {
	BreakerState() string
}

// HealthHandler provides HTTP health check endpoint
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	instruments   InstrumentReporter
	breaker       BreakerReporter
	version       string
	now           func() time.Time
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(healthChecker HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		version:       version,
		now:           time.Now,
	}
}

// WithInstruments adds per-instrument state to the response
func (hh *HealthHandler) WithInstruments(r InstrumentReporter) *HealthHandler {
	hh.instruments = r
	return hh
}

// WithBreaker adds the circuit breaker state to the response
func (hh *HealthHandler) WithBreaker(r BreakerReporter) *HealthHandler {
	hh.breaker = r
	return hh
}

// ServeHTTP implements http.Handler interface for /health endpoint
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hh.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")

	// Degraded still answers 200
	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

// getHealthStatus determines current health status
func (hh *HealthHandler) getHealthStatus() HealthStatus {
	now := hh.now()

	isOnline := hh.healthChecker.IsOnline()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	status := "healthy"
	if !isOnline {
		status = "unhealthy"
	} else if total := errorCount + successCount; errorCount > 0 && total > 0 {
		errorRate := float64(errorCount) / float64(total) * 100.0
		if errorRate > 50.0 {
			status = "unhealthy"
		} else if errorRate > 20.0 {
			status = "degraded"
		}
	}

	result := HealthStatus{
		Status:             status,
		Timestamp:          now,
		Uptime:             formatDuration(now.Sub(hh.startTime)),
		BusOnline:          isOnline,
		LastSuccessfulPoll: formatSince(now, hh.healthChecker.GetLastSuccessTime()),
		ErrorCount:         errorCount,
		SuccessCount:       successCount,
		Version:            hh.version,
	}

	if hh.breaker != nil {
		result.CircuitBreaker = hh.breaker.BreakerState()
		if result.CircuitBreaker == "OPEN" && status == "healthy" {
			result.Status = "degraded"
		}
	}

	if hh.instruments != nil {
		result.Instruments = hh.instruments.InstrumentHealth()
		if status == "healthy" {
			for _, inst := range result.Instruments {
				if inst.State != "operational" {
					result.Status = "degraded"
					break
				}
			}
		}
	}

	return result
}

func formatSince(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	since := now.Sub(t)
	switch {
	case since < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(since.Seconds()))
	case since < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(since.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(since.Hours()))
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// NewHealthMux returns the mux served on the health port
func NewHealthMux(handler *HealthHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", handler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html>
<head><title>GPIB Load Bridge</title></head>
<body>
<h1>GPIB Load Bridge</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a> (if enabled)</li>
</ul>
</body>
</html>`)
	})
	return mux
}

// StartHealthServer starts an HTTP server for health checks
func StartHealthServer(handler *HealthHandler, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewHealthMux(handler),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return server.ListenAndServe()
}
