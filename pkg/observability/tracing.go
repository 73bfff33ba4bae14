package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

// TracerName is the instrumentation scope for spans started by this module
const TracerName = "github.com/platinummonkey/tenantadmin"

// StartSpan starts a span on the module tracer. The request's effective
// user, impersonator and tenant are attached when known, so access
// decisions can be traced back to whoever was acting.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	for _, f := range []struct {
		key   string
		value string
	}{
		{"enduser.id", contextkeys.GetUserID(ctx)},
		{"tenantadmin.original_user_id", contextkeys.GetOriginalUserID(ctx)},
		{"tenantadmin.tenant_id", contextkeys.GetTenantID(ctx)},
	} {
		if f.value != "" {
			attrs = append(attrs, attribute.String(f.key, f.value))
		}
	}
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// traceFields returns trace_id and span_id for a recording span in ctx
func traceFields(ctx context.Context) []interface{} {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	sc := span.SpanContext()
	return []interface{}{"trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()}
}
