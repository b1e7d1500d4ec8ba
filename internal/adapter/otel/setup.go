// Package otel carries the service's metric instruments and HTTP tracing
// hooks. Trace export is stubbed until a collector is deployed alongside the
// service.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc flushes and stops the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer currently installs no provider and returns a no-op shutdown.
// TODO: wire an OTLP exporter and TracerProvider once a collector endpoint exists.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Debug("trace export disabled, no collector configured", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
