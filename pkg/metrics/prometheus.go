package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrometheusMetrics tracks application metrics in Prometheus text format
type PrometheusMetrics struct {
	// Counters, labelled by instrument
	instrumentReads  map[string]int64
	instrumentErrors map[string]int64
	commandsOK       map[string]int64
	commandsFailed   map[string]int64

	mqttPublishesTotal int64
	mqttErrorsTotal    int64

	// Gauges
	busStatus int64 // 1 = online, 0 = offline

	// Simplified histogram: sum and count
	readDurationSum   float64
	readDurationCount int64

	mu sync.RWMutex
}

// NewPrometheusMetrics creates a new Prometheus metrics collector
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		instrumentReads:  make(map[string]int64),
		instrumentErrors: make(map[string]int64),
		commandsOK:       make(map[string]int64),
		commandsFailed:   make(map[string]int64),
		busStatus:        1,
	}
}

func (pm *PrometheusMetrics) IncrementInstrumentReads(instrumentID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.instrumentReads[instrumentID]++
}

func (pm *PrometheusMetrics) IncrementInstrumentErrors(instrumentID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.instrumentErrors[instrumentID]++
}

func (pm *PrometheusMetrics) IncrementCommands(instrumentID string, ok bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ok {
		pm.commandsOK[instrumentID]++
	} else {
		pm.commandsFailed[instrumentID]++
	}
}

func (pm *PrometheusMetrics) IncrementMQTTPublishes() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.mqttPublishesTotal++
}

func (pm *PrometheusMetrics) IncrementMQTTErrors() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.mqttErrorsTotal++
}

func (pm *PrometheusMetrics) SetBusStatus(online bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if online {
		pm.busStatus = 1
	} else {
		pm.busStatus = 0
	}
}

func (pm *PrometheusMetrics) ObserveReadDuration(duration time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.readDurationSum += duration.Seconds()
	pm.readDurationCount++
}

// GetMetricsText returns metrics in Prometheus text format
func (pm *PrometheusMetrics) GetMetricsText() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var b strings.Builder

	writeLabelled(&b, "instrument_reads_total", "Total number of successful instrument polls", pm.instrumentReads)
	writeLabelled(&b, "instrument_errors_total", "Total number of failed instrument polls", pm.instrumentErrors)

	fmt.Fprintf(&b, "# HELP commands_total Total number of executed MQTT commands\n# TYPE commands_total counter\n")
	for _, id := range sortedKeys(pm.commandsOK, pm.commandsFailed) {
		fmt.Fprintf(&b, "commands_total{instrument=%q,result=\"ok\"} %d\n", id, pm.commandsOK[id])
		fmt.Fprintf(&b, "commands_total{instrument=%q,result=\"error\"} %d\n", id, pm.commandsFailed[id])
	}
	b.WriteString("\n")

	var avgReadDuration float64
	if pm.readDurationCount > 0 {
		avgReadDuration = pm.readDurationSum / float64(pm.readDurationCount)
	}

	fmt.Fprintf(&b, `# HELP mqtt_publishes_total Total number of MQTT publish operations
# TYPE mqtt_publishes_total counter
mqtt_publishes_total %d

# HELP mqtt_errors_total Total number of MQTT publish errors
# TYPE mqtt_errors_total counter
mqtt_errors_total %d

# HELP gpib_bus_status Current GPIB controller status (1 = online, 0 = offline)
# TYPE gpib_bus_status gauge
gpib_bus_status %d

# HELP instrument_read_duration_seconds Average instrument poll duration in seconds
# TYPE instrument_read_duration_seconds gauge
instrument_read_duration_seconds %.6f

# HELP instrument_read_duration_count Total number of poll duration observations
# TYPE instrument_read_duration_count counter
instrument_read_duration_count %d
`,
		pm.mqttPublishesTotal,
		pm.mqttErrorsTotal,
		pm.busStatus,
		avgReadDuration,
		pm.readDurationCount,
	)

	return b.String()
}

func writeLabelled(b *strings.Builder, name, help string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, id := range sortedKeys(values) {
		fmt.Fprintf(b, "%s{instrument=%q} %d\n", name, id, values[id])
	}
	b.WriteString("\n")
}

func sortedKeys(maps ...map[string]int64) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// ServeHTTP implements http.Handler interface for /metrics endpoint
func (pm *PrometheusMetrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, pm.GetMetricsText())
}

// StartMetricsServer starts an HTTP server on the given port to expose metrics
func (pm *PrometheusMetrics) StartMetricsServer(port int) error {
	if port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", pm)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return server.ListenAndServe()
}

// GetStats returns current metric values
func (pm *PrometheusMetrics) GetStats() MetricStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := MetricStats{
		MQTTPublishesTotal: pm.mqttPublishesTotal,
		MQTTErrorsTotal:    pm.mqttErrorsTotal,
		BusOnline:          pm.busStatus == 1,
		ReadDurationCount:  pm.readDurationCount,
	}
	for _, v := range pm.instrumentReads {
		stats.InstrumentReadsTotal += v
	}
	for _, v := range pm.instrumentErrors {
		stats.InstrumentErrorsTotal += v
	}
	if pm.readDurationCount > 0 {
		stats.AvgReadDuration = pm.readDurationSum / float64(pm.readDurationCount)
	}
	return stats
}

// MetricStats represents current metric statistics
type MetricStats struct {
	InstrumentReadsTotal  int64
	InstrumentErrorsTotal int64
	MQTTPublishesTotal    int64
	MQTTErrorsTotal       int64
	BusOnline             bool
	AvgReadDuration       float64
	ReadDurationCount     int64
}
