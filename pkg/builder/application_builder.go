package builder

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/diagnostics"
	"gpib-load-bridge/pkg/gpib"
	"gpib-load-bridge/pkg/health"
	"gpib-load-bridge/pkg/hp6060b"
	bridgehttp "gpib-load-bridge/pkg/http"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/metrics"
	"gpib-load-bridge/pkg/mqtt"
	"gpib-load-bridge/pkg/recovery"
	"gpib-load-bridge/pkg/services"
)

// ApplicationBuilder provides a fluent interface for constructing Application instances.
// Anything not injected is created from the configuration by Build.
type ApplicationBuilder struct {
	config        *config.Config
	bus           gpib.Bus
	busCloser     io.Closer
	publisher     services.Publisher
	metrics       metrics.MetricsCollector
	healthMonitor *health.BusHealthMonitor
	version       string
}

// NewApplicationBuilder creates a new builder for cfg
func NewApplicationBuilder(cfg *config.Config) *ApplicationBuilder {
	return &ApplicationBuilder{config: cfg}
}

// WithBus sets the GPIB bus instead of opening the configured controller
func (b *ApplicationBuilder) WithBus(bus gpib.Bus) *ApplicationBuilder {
	b.bus = bus
	return b
}

// WithPublisher sets the publisher instead of connecting to the configured broker
func (b *ApplicationBuilder) WithPublisher(pub services.Publisher) *ApplicationBuilder {
	b.publisher = pub
	return b
}

// WithMetrics sets the metrics collector
func (b *ApplicationBuilder) WithMetrics(collector metrics.MetricsCollector) *ApplicationBuilder {
	b.metrics = collector
	return b
}

// WithHealthMonitor sets a custom health monitor
func (b *ApplicationBuilder) WithHealthMonitor(monitor *health.BusHealthMonitor) *ApplicationBuilder {
	b.healthMonitor = monitor
	return b
}

// WithVersion sets the version reported on /health and in discovery
func (b *ApplicationBuilder) WithVersion(version string) *ApplicationBuilder {
	b.version = version
	return b
}

// Build constructs the Application with all dependencies
func (b *ApplicationBuilder) Build(ctx context.Context) (*Application, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := b.config

	if b.bus == nil {
		controller, closer, err := gpib.Open(ctx, config.NewBusSettings(cfg), &cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("error opening GPIB bus: %w", err)
		}
		b.bus, b.busCloser = controller, closer
	}

	var breaker *gpib.CircuitBreakerBus
	if cb := cfg.Bus.CircuitBreaker; cb.Enabled {
		breaker = gpib.NewCircuitBreakerBus(b.bus, recovery.CircuitBreakerConfig{
			MaxFailures:      cb.MaxFailures,
			Timeout:          time.Duration(cb.Timeout) * time.Second,
			HalfOpenMaxTries: cb.HalfOpenMaxTries,
		})
		b.bus = breaker
	}

	var mqttPublisher *mqtt.Publisher
	if b.publisher == nil {
		if cfg.TelemetryEnabled() {
			mqttPublisher = mqtt.NewPublisher(&cfg.MQTT, config.NewTelemetrySettings(cfg))
			b.publisher = mqttPublisher
		} else {
			logger.LogWarn("⚠️ No MQTT broker configured, readings go to the log only")
			b.publisher = services.LogPublisher{}
		}
	} else if p, ok := b.publisher.(*mqtt.Publisher); ok {
		mqttPublisher = p
	}

	if b.metrics == nil {
		if cfg.Health.MetricsPort > 0 {
			b.metrics = metrics.NewPrometheusMetrics()
		} else {
			b.metrics = metrics.NewNullMetrics()
		}
	}

	pollingSettings := config.NewPollingSettings(cfg)
	if b.healthMonitor == nil {
		b.healthMonitor = health.NewBusHealthMonitor(pollingSettings.ErrorGracePeriod)
	}

	app := &Application{
		config:        cfg,
		bus:           b.bus,
		busCloser:     b.busCloser,
		breaker:       breaker,
		publisher:     b.publisher,
		mqttPublisher: mqttPublisher,
		metrics:       b.metrics,
		healthMonitor: b.healthMonitor,
		tracker:       metrics.NewPerformanceTracker(30 * time.Second),
		busLock:       &sync.Mutex{},
		loads:         make(map[string]*hp6060b.Load),
		version:       b.version,
	}

	for _, key := range config.SortedInstrumentKeys(cfg.Instruments) {
		inst := cfg.Instruments[key]
		if !inst.IsEnabled() {
			logger.LogInfo("⏸️ Instrument %s disabled", key)
			continue
		}
		app.loads[key] = hp6060b.New(app.bus, inst.Address)
		app.infos = append(app.infos, mqtt.NewInstrumentInfo(inst))
	}

	if mqttPublisher != nil && cfg.Diagnostics.Enabled {
		app.diagnosticManager = diagnostics.NewInstrumentManager(mqttPublisher, config.NewDiagnosticSettings(cfg), app.infos)
	}

	var polled []*services.PolledInstrument
	for _, inst := range pollingSettings.Instruments {
		polled = append(polled, &services.PolledInstrument{
			Info:     mqtt.NewInstrumentInfo(inst),
			Load:     app.loads[inst.ID],
			Interval: time.Duration(inst.PollInterval) * time.Millisecond,
		})
	}
	app.polledInstruments = polled
	app.pollingService = services.NewPollingService(polled, app.publisher, app.healthMonitor,
		app.diagnosticManager, app.metrics, app.tracker, app.busLock)
	app.heartbeatService = services.NewHeartbeatService(app.publisher, app.healthMonitor,
		time.Duration(cfg.Telemetry.HeartbeatInterval)*time.Second)

	if mqttPublisher != nil && cfg.Telemetry.AcceptCommands {
		instruments := make(map[string]mqtt.Instrument, len(app.loads))
		for id, load := range app.loads {
			instruments[id] = load
		}
		app.commands = mqtt.NewCommandSubscriber(mqttPublisher.Client(), mqttPublisher.Topics(), instruments, app.busLock)
		app.commands.OnResult = app.recordCommand
	}

	return app, nil
}

// Application owns every long-running component of the bridge
type Application struct {
	config            *config.Config
	bus               gpib.Bus
	busCloser         io.Closer
	breaker           *gpib.CircuitBreakerBus
	publisher         services.Publisher
	mqttPublisher     *mqtt.Publisher
	metrics           metrics.MetricsCollector
	healthMonitor     *health.BusHealthMonitor
	diagnosticManager *diagnostics.InstrumentManager
	tracker           *metrics.PerformanceTracker
	pollingService    *services.PollingService
	heartbeatService  *services.HeartbeatService
	commands          *mqtt.CommandSubscriber
	busLock           sync.Locker
	loads             map[string]*hp6060b.Load
	infos             []mqtt.InstrumentInfo
	polledInstruments []*services.PolledInstrument
	version           string
}

// Start connects the publisher, identifies every load and starts the background loops
func (app *Application) Start(ctx context.Context) error {
	logger.LogInfo("🚀 Starting GPIB load bridge...")

	if app.mqttPublisher != nil {
		if err := app.mqttPublisher.Connect(ctx); err != nil {
			return fmt.Errorf("error connecting publisher: %w", err)
		}
	}

	app.identify(ctx)
	app.publishDiscovery(ctx)

	if err := app.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Error publishing online status: %v", err)
	} else if err := app.publisher.PublishDiagnostic(ctx, 0, "GPIB load bridge started successfully"); err != nil {
		logger.LogError("⚠️ Error publishing diagnostic: %v", err)
	}

	if app.commands != nil {
		if err := app.commands.Subscribe(); err != nil {
			return err
		}
		go app.commands.Run(ctx)
	}

	go app.pollingService.Start(ctx)
	go app.heartbeatService.Start(ctx)
	if app.diagnosticManager != nil {
		go app.diagnosticManager.StartDiagnosticsLoop(ctx, 10*time.Second)
	}

	app.startHTTP()

	logger.LogInfo("✅ GPIB load bridge started with %d instruments", len(app.loads))
	return nil
}

// identify asks every load for *IDN? and optionally clears its status
func (app *Application) identify(ctx context.Context) {
	app.busLock.Lock()
	defer app.busLock.Unlock()

	for i, info := range app.infos {
		load := app.loads[info.ID]

		idn, err := load.Identification(ctx)
		if err != nil {
			logger.LogWarn("⚠️ %s did not identify: %v", load, err)
			continue
		}
		app.infos[i].Identification = idn
		for _, polled := range app.polledInstruments {
			if polled.Info.ID == info.ID {
				polled.Info.Identification = idn
			}
		}
		logger.LogInfo("🔌 %s (%s): %s", info.Name, load, idn)

		if app.config.Instruments[info.ID].ResetOnStart {
			if err := load.Reset(ctx); err != nil {
				logger.LogWarn("⚠️ Error clearing status of %s: %v", load, err)
			}
		}
	}
}

func (app *Application) publishDiscovery(ctx context.Context) {
	for _, info := range app.infos {
		if err := app.publisher.PublishInstrumentDiscovery(ctx, info); err != nil {
			logger.LogError("⚠️ Error publishing discovery for %s: %v", info.ID, err)
		}
	}

	if app.mqttPublisher == nil {
		return
	}
	if err := app.mqttPublisher.PublishDiagnosticDiscovery(ctx); err != nil {
		logger.LogError("⚠️ Error publishing diagnostic discovery: %v", err)
	}
	if app.diagnosticManager != nil {
		app.diagnosticManager.PublishDiscoveryForAllInstruments(ctx)
	}
}

func (app *Application) startHTTP() {
	if port := app.config.Health.MetricsPort; port > 0 {
		go func() {
			logger.LogInfo("📈 Metrics on :%d/metrics", port)
			if err := app.metrics.StartMetricsServer(port); err != nil {
				logger.LogError("❌ Metrics server stopped: %v", err)
			}
		}()
	}

	if port := app.config.Health.Port; port > 0 {
		handler := bridgehttp.NewHealthHandler(app.healthMonitor, app.version)
		if app.breaker != nil {
			handler.WithBreaker(breakerReporter{app.breaker})
		}
		if app.diagnosticManager != nil {
			handler.WithInstruments(instrumentReporter{app.diagnosticManager, app.infos})
		}
		go func() {
			logger.LogInfo("🩺 Health check on :%d/health", port)
			if err := bridgehttp.StartHealthServer(handler, port); err != nil {
				logger.LogError("❌ Health server stopped: %v", err)
			}
		}()
	}
}

func (app *Application) recordCommand(cmd mqtt.Command, err error) {
	app.metrics.IncrementCommands(cmd.Instrument, err == nil)
	app.tracker.RecordCommand(err == nil)
}

// Stop returns every load to local control and publishes the offline status
func (app *Application) Stop() {
	logger.LogInfo("🛑 Stopping GPIB load bridge...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	app.busLock.Lock()
	for _, info := range app.infos {
		if err := app.loads[info.ID].Local(ctx); err != nil {
			logger.LogDebug("Error returning %s to local: %v", info.ID, err)
		}
	}
	app.busLock.Unlock()

	if err := app.publisher.PublishStatusOffline(ctx); err != nil {
		logger.LogError("⚠️ Error publishing offline status: %v", err)
	} else if err := app.publisher.PublishDiagnostic(ctx, 0, "GPIB load bridge stopped gracefully"); err != nil {
		logger.LogError("⚠️ Error publishing diagnostic: %v", err)
	}

	if app.mqttPublisher != nil {
		app.mqttPublisher.Disconnect()
	}
	app.Close()

	logger.LogInfo("✅ GPIB load bridge stopped")
}

// Close releases the bus link without touching the loads or the broker
func (app *Application) Close() {
	if app.busCloser == nil {
		return
	}
	if err := app.busCloser.Close(); err != nil {
		logger.LogDebug("Error closing bus link: %v", err)
	}
}

// Load returns the adapter of one configured instrument
func (app *Application) Load(id string) (*hp6060b.Load, bool) {
	load, ok := app.loads[id]
	return load, ok
}

// Instruments returns the publisher view of every enabled instrument
func (app *Application) Instruments() []mqtt.InstrumentInfo {
	return app.infos
}

// PollingService returns the polling service
func (app *Application) PollingService() *services.PollingService {
	return app.pollingService
}

// HealthMonitor returns the bus health monitor
func (app *Application) HealthMonitor() *health.BusHealthMonitor {
	return app.healthMonitor
}

type breakerReporter struct {
	bus *gpib.CircuitBreakerBus
}

func (r breakerReporter) BreakerState() string {
	return r.bus.GetState().String()
}

type instrumentReporter struct {
	manager *diagnostics.InstrumentManager
	infos   []mqtt.InstrumentInfo
}

func (r instrumentReporter) InstrumentHealth() map[string]bridgehttp.InstrumentHealth {
	report := r.manager.Report()
	out := make(map[string]bridgehttp.InstrumentHealth, len(r.infos))
	for _, info := range r.infos {
		m := report[info.ID]
		out[info.ID] = bridgehttp.InstrumentHealth{
			Address:           info.Address,
			State:             m.CurrentState,
			ConsecutiveErrors: m.ConsecutiveErrors,
			LastError:         m.LastError,
		}
	}
	return out
}
