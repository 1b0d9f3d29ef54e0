// Package telemetry wires OpenTelemetry tracing for the allocations service.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const DefaultServiceName = "allocations"

type Config struct {
	ServiceName string
	Environment string
	Endpoint    string
	Headers     map[string]string
	Timeout     time.Duration
	Insecure    bool
	// Required turns exporter setup failures into startup errors.
	Required   bool
	Sampler    string
	SamplerArg string
}

func ConfigFromEnv() Config {
	return Config{
		ServiceName: config.String("OTEL_SERVICE_NAME", DefaultServiceName),
		Environment: config.String("ENVIRONMENT", ""),
		Endpoint:    strings.TrimSpace(config.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		Headers:     parseHeaders(config.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Timeout:     config.DurationSec("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", 5),
		Insecure:    config.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		Required:    config.Bool("OTEL_REQUIRED", false),
		Sampler:     config.String("OTEL_TRACES_SAMPLER", ""),
		SamplerArg:  config.String("OTEL_TRACES_SAMPLER_ARG", ""),
	}
}

// Init installs the global tracer provider and returns its shutdown func.
// Without an endpoint spans are sampled but never exported.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	sampler := parseSampler(cfg.Sampler, cfg.SamplerArg)
	install := func(opts ...trace.TracerProviderOption) func(context.Context) error {
		tp := trace.NewTracerProvider(append([]trace.TracerProviderOption{trace.WithResource(res), trace.WithSampler(sampler)}, opts...)...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		return tp.Shutdown
	}
	if cfg.Endpoint == "" {
		return install(), nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		if cfg.Required {
			return nil, err
		}
		logger.Warn("otel exporter disabled", "service", name, "error", err)
		return install(), nil
	}
	return install(trace.WithBatcher(exporter)), nil
}

// Tracer is the named tracer used for spans around repository transactions.
func Tracer() oteltrace.Tracer {
	return otel.Tracer("github.com/rlarcher1021/seazwf-sub000")
}

func parseSampler(name, arg string) trace.Sampler {
	ratio := 1.0
	if arg = strings.TrimSpace(arg); arg != "" {
		if val, err := strconv.ParseFloat(arg, 64); err == nil {
			ratio = min(max(val, 0), 1)
		}
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}

// HTTPMiddleware instruments inbound HTTP handlers.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return otelhttp.NewMiddleware(serviceName)
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
