package telemetry

import (
	"context"
	"time"

	"vidstream/backend/internal/logging"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before shutting down OTel providers,
// so in-flight async telemetry emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine uses a fresh context so request cancellation does not abort an in-flight emit.
func EmitAsync(log logging.Logger, emitter EventEmitter, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	if log == nil {
		log = logging.Nop()
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn(emitCtx, "telemetry: async emit failed", "event_type", event.EventType, "error", err)
		}
	}()
}
