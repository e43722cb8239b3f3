package agentsy

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/skosovsky/agentsy"

// Span names.
const (
	spanInvoke      = "agentsy.invoke"
	spanRound       = "agentsy.round"
	spanTool        = "agentsy.tool"
	spanToolExecute = "agentsy.tool.execute"
)

// Span attribute keys.
const (
	attrModel       = "agentsy.model"
	attrBudget      = "agentsy.round_budget"
	attrStream      = "agentsy.stream"
	attrRounds      = "agentsy.rounds"
	attrRound       = "agentsy.round"
	attrTools       = "agentsy.tools_offered"
	attrToolCalls   = "agentsy.tool_calls"
	attrToolName    = "agentsy.tool.name"
	attrToolCallID  = "agentsy.tool.call_id"
	attrCancelCause = "agentsy.cancel_cause"
	attrResultBytes = "agentsy.tool.result_bytes"
)

// WithTracing returns a middleware that wraps every handler execution in a span.
// A nil provider means otel.GetTracerProvider().
func WithTracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(def ToolDefinition, next Handler) Handler {
		return func(ctx context.Context, args json.RawMessage) (string, error) {
			ctx, span := tracer.Start(ctx, spanToolExecute,
				trace.WithAttributes(attribute.String(attrToolName, def.Name)))
			defer span.End()
			res, err := next(ctx, args)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", err
			}
			span.SetAttributes(attribute.Int(attrResultBytes, len(res)))
			return res, nil
		}
	}
}
