package supervisor

import "go.opentelemetry.io/otel"

const scopeName = "stream-orchestrator/internal/supervisor"

var tracer = otel.Tracer(scopeName)
