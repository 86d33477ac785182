// Package observability wires tracing and the Prometheus metrics endpoint
// for the refiner binaries.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds observability configuration
type Config struct {
	// ServiceName is reported on every span
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// MetricsAddr is the listen address for /metrics, /health and /ready.
	// Empty disables the HTTP server.
	MetricsAddr string

	// EnableTracing enables OpenTelemetry tracing
	EnableTracing bool

	// TraceOutput receives stdout exporter output. Defaults to os.Stderr.
	TraceOutput io.Writer
}

// HealthFunc reports component health for /health.
type HealthFunc func() any

// Manager owns the tracer provider, the metrics registry and the HTTP server.
type Manager struct {
	config         Config
	registry       *prometheus.Registry
	tracerProvider *sdktrace.TracerProvider
	server         *http.Server
	listener       net.Listener
	logger         *slog.Logger

	mu     sync.RWMutex
	health HealthFunc
	ready  bool

	shutdownOnce sync.Once
}

// NewManager creates a manager with a registry that already carries the Go
// runtime and process collectors.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if config.ServiceName == "" {
		config.ServiceName = "aipromptai"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "0.0.0"
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Manager{
		config:   config,
		registry: registry,
		logger:   logger.With("component", "observability"),
	}
}

// Registry is shared by every component's Prometheus collector.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// SetHealth installs the function backing /health.
func (m *Manager) SetHealth(fn HealthFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = fn
}

// SetReady flips /ready between 503 and 200.
func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// Initialize sets up tracing and the metrics server as configured.
func (m *Manager) Initialize(ctx context.Context) error {
	m.logger.Info("initializing observability",
		"service_name", m.config.ServiceName,
		"service_version", m.config.ServiceVersion,
		"metrics_addr", m.config.MetricsAddr,
		"enable_tracing", m.config.EnableTracing)

	if m.config.EnableTracing {
		if err := m.initializeTracing(ctx); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if m.config.MetricsAddr != "" {
		if err := m.startServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		m.logger.Info("metrics server started", "endpoint", fmt.Sprintf("http://%s/metrics", m.Addr()))
	}

	return nil
}

func (m *Manager) initializeTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	out := m.config.TraceOutput
	if out == nil {
		out = os.Stderr
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	m.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(m.tracerProvider)
	return nil
}

// Tracer returns a tracer for the given name
func (m *Manager) Tracer(name string) trace.Tracer {
	if m.tracerProvider != nil {
		return m.tracerProvider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Addr returns the bound metrics address, or "" when the server is off.
func (m *Manager) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Handler serves /metrics, /health and /ready.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		fn := m.health
		m.mu.RUnlock()

		body := map[string]any{"status": "healthy"}
		if fn != nil {
			body["components"] = fn()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		ready := m.ready
		m.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	return mux
}

func (m *Manager) startServer() error {
	ln, err := net.Listen("tcp", m.config.MetricsAddr)
	if err != nil {
		return err
	}
	m.listener = ln

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server and flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	m.shutdownOnce.Do(func() {
		if m.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := m.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}

		if m.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := m.tracerProvider.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
			}
		}
	})

	return errors.Join(errs...)
}
