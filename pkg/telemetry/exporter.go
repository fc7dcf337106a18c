package telemetry

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials/insecure"
)

func createExporter(ctx context.Context, cfg *Config) (*otlptrace.Exporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "http/protobuf", "http":
		return otlptracehttp.New(ctx, httpOptions(cfg)...)
	default:
		return otlptracegrpc.New(ctx, grpcOptions(cfg)...)
	}
}

// splitEndpoint strips the scheme and reports whether it was plain http.
func splitEndpoint(endpoint string) (hostport string, plaintext bool) {
	if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		return rest, true
	}
	return strings.TrimPrefix(endpoint, "https://"), false
}

func grpcOptions(cfg *Config) []otlptracegrpc.Option {
	var opts []otlptracegrpc.Option
	plaintext := cfg.Insecure
	if cfg.Endpoint != "" {
		hostport, http := splitEndpoint(cfg.Endpoint)
		plaintext = plaintext || http
		opts = append(opts, otlptracegrpc.WithEndpoint(hostport))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if plaintext {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return opts
}

func httpOptions(cfg *Config) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	plaintext := cfg.Insecure
	if cfg.Endpoint != "" {
		hostport, http := splitEndpoint(cfg.Endpoint)
		plaintext = plaintext || http
		opts = append(opts, otlptracehttp.WithEndpoint(hostport))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if plaintext {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// createSampler maps OTEL_TRACES_SAMPLER to a sampler. Unknown names sample everything.
func createSampler(cfg *Config) sdktrace.Sampler {
	switch cfg.Sampler {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseRatio(cfg.SamplerArg))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseRatio(cfg.SamplerArg)))
	default:
		return sdktrace.AlwaysSample()
	}
}

// parseRatio clamps to [0, 1]; unparsable input samples everything.
func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(s, 64)
	switch {
	case err != nil:
		return 1
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
