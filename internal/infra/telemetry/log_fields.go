package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent       = "event"
	FieldTool        = "tool"
	FieldModel       = "model"
	FieldExecutionID = "execution_id"
	FieldDurationMs  = "duration_ms"
	FieldRoute       = "route"
	FieldStatus      = "status"
	FieldRequestID   = "request_id"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"
)

const (
	EventStartup         = "startup"
	EventProbe           = "probe"
	EventShutdownBegin   = "shutdown_begin"
	EventShutdownDrained = "shutdown_drained"
	EventShutdownForced  = "shutdown_forced"
	EventUpdateCheck     = "update_check"
	EventUpdateApply     = "update_apply"
	EventCleanup         = "cleanup"
	EventTokenRefresh    = "token_refresh"
	EventModelsRefresh   = "models_refresh"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func ModelField(model string) zap.Field {
	return zap.String(FieldModel, model)
}

func ExecutionIDField(id string) zap.Field {
	return zap.String(FieldExecutionID, id)
}

func RouteField(route string) zap.Field {
	return zap.String(FieldRoute, route)
}

func StatusField(status int) zap.Field {
	return zap.Int(FieldStatus, status)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
