package audit

import (
	"context"
	"time"

	"telecare-platform/authority/internal/audit/domain"
)

// recordTimeout is the max time allowed for a single async record. Used by
// AsyncSink and by ShutdownDrainDuration.
const recordTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait during shutdown so in-flight
// async audit records have time to complete. Must be >= recordTimeout.
const ShutdownDrainDuration = recordTimeout

// AsyncSink wraps a Sink and records in a goroutine with a short timeout so
// the request path is never blocked by the audit store. The goroutine uses
// context.Background() so request cancellation does not abort an in-flight
// record for a stage that was already reached.
type AsyncSink struct {
	inner Sink
}

// NewAsync returns an AsyncSink delegating to inner.
func NewAsync(inner Sink) *AsyncSink {
	return &AsyncSink{inner: inner}
}

// Record delivers the entry fire-and-forget with a bounded timeout.
func (s *AsyncSink) Record(_ context.Context, e *domain.Entry) {
	if s.inner == nil || e == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		s.inner.Record(ctx, e)
	}()
}
