package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseflow-io/caseflow/internal/config"
	otelint "github.com/caseflow-io/caseflow/internal/otel"
)

// Opentelemetry traces and meters incoming requests. Spans are renamed to the
// chi route pattern after serving, so /v1/work-items/{key}/start stays one
// series regardless of the key in the path.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	transfer := conf.Tracing.TransferHeaders
	return func(next http.Handler) http.Handler {
		metered := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			r = r.WithContext(transferHeaderCtx(r, transfer))

			next.ServeHTTP(sw, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			span := trace.SpanFromContext(r.Context())
			span.SetName(pattern)
			span.SetAttributes(transferHeaderAttributes(r, transfer)...)

			tags := metric.WithAttributes(
				attribute.String("path", pattern),
				attribute.String("method", r.Method),
				attribute.Int("status", sw.status()),
			)
			otelint.RequestTotal.Add(r.Context(), 1)
			otelint.RequestUriTotal.Add(r.Context(), 1, tags)
			otelint.RequestDuration.Record(r.Context(), float64(time.Since(start).Milliseconds()), tags)
		})
		return otelhttp.NewHandler(metered, "request", otelhttp.WithPublicEndpoint())
	}
}

// statusWriter remembers the first status code written so the request metrics
// can be tagged with it.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// transferHeaderCtx copies the configured request headers into the context so
// downstream code can correlate engine operations with the caller.
func transferHeaderCtx(r *http.Request, headers []string) context.Context {
	ctx := r.Context()
	for _, header := range headers {
		ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), r.Header.Get(header))
	}
	return ctx
}

func transferHeaderAttributes(r *http.Request, headers []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, len(headers))
	for i, header := range headers {
		attributes[i] = attribute.String(header, r.Header.Get(header))
	}
	return attributes
}
