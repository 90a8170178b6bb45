package logging

import (
	"context"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanExporter writes finished spans to a logrus entry at debug level.
type spanExporter struct {
	log *logrus.Entry
}

// NewSpanExporter returns an exporter that logs every span it receives.
func NewSpanExporter(log *logrus.Entry) sdktrace.SpanExporter {
	return &spanExporter{log: log.WithField("component", "trace")}
}

func (e *spanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := logrus.Fields{
			"span":     span.Name(),
			"trace_id": span.SpanContext().TraceID().String(),
			"duration": span.EndTime().Sub(span.StartTime()).String(),
			"status":   span.Status().Code.String(),
		}
		for _, attr := range span.Attributes() {
			fields[string(attr.Key)] = attr.Value.AsInterface()
		}
		entry := e.log.WithFields(fields)
		if desc := span.Status().Description; desc != "" {
			entry = entry.WithField("error", desc)
		}
		entry.Debug("span")
	}
	return nil
}

func (e *spanExporter) Shutdown(context.Context) error {
	return nil
}

// NewTracerProvider returns a provider that synchronously logs spans through log.
func NewTracerProvider(log *logrus.Entry) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewSpanExporter(log)))
}
