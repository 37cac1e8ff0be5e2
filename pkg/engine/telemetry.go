// ABOUTME: Engine-level telemetry for operation tracing, value sizes and tree shape
// ABOUTME: Wraps the telemetry abstraction so engine calls stay free of OpenTelemetry details

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/btkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	// Operation tracing
	RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool)
	RecordValueSize(ctx context.Context, operation string, bytes int)

	// Storage shape
	RecordTreeShape(ctx context.Context, height int, blocks int64)
	RecordCacheStats(ctx context.Context, hits, misses uint64)

	// Component initialization
	RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool)

	// Error tracking
	RecordError(ctx context.Context, errorType, component string)

	telemetry.ComponentMetrics
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return NewNoopEngineMetrics()
	}
	return &engineMetrics{
		tel: tel,
	}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

// RecordEngineOperation records duration and count of one engine call
func (m *engineMetrics) RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, statusOf(success)),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	}
	m.tel.RecordHistogram(ctx, "btkv.engine.operation.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "btkv.engine.operation.count", 1, attrs...)
}

// RecordValueSize records the size of a value written or read. Values that
// do not fit inline are tagged as overflow values.
func (m *engineMetrics) RecordValueSize(ctx context.Context, operation string, bytes int) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	kind := "inline"
	if bytes > inlineValueLimit {
		kind = "overflow"
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrValueKind, kind),
	}
	m.tel.RecordHistogram(ctx, "btkv.engine.value.size.bytes", float64(bytes), attrs...)
}

func (m *engineMetrics) RecordTreeShape(ctx context.Context, height int, blocks int64) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBTree),
	}
	m.tel.RecordHistogram(ctx, "btkv.tree.height", float64(height), attrs...)
	m.tel.RecordHistogram(ctx, "btkv.tree.blocks", float64(blocks), attrs...)
}

// RecordCacheStats records block cache hits and misses since the last call
func (m *engineMetrics) RecordCacheStats(ctx context.Context, hits, misses uint64) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentDevice),
	}
	m.tel.RecordCounter(ctx, "btkv.cache.hits", int64(hits), attrs...)
	m.tel.RecordCounter(ctx, "btkv.cache.misses", int64(misses), attrs...)
}

// RecordComponentInitialization records component startup metrics
func (m *engineMetrics) RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, component),
		attribute.String(telemetry.AttrStatus, statusOf(success)),
	}
	m.tel.RecordHistogram(ctx, "btkv.engine.component.initialization.duration", duration.Seconds(), attrs...)
}

// RecordError records engine errors with categorization
func (m *engineMetrics) RecordError(ctx context.Context, errorType, component string) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrErrorType, errorType),
		attribute.String(telemetry.AttrComponent, component),
	}
	m.tel.RecordCounter(ctx, "btkv.engine.errors.total", 1, attrs...)
}

// Close does nothing: the engine does not own the telemetry instance
func (m *engineMetrics) Close() error {
	return nil
}

// noopEngineMetrics provides a no-op implementation for testing or disabled telemetry
type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
}
func (n *noopEngineMetrics) RecordValueSize(ctx context.Context, operation string, bytes int) {}
func (n *noopEngineMetrics) RecordTreeShape(ctx context.Context, height int, blocks int64)    {}
func (n *noopEngineMetrics) RecordCacheStats(ctx context.Context, hits, misses uint64)        {}
func (n *noopEngineMetrics) RecordError(ctx context.Context, errorType, component string)     {}
func (n *noopEngineMetrics) Close() error                                                     { return nil }
func (n *noopEngineMetrics) RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool) {
}

func statusOf(success bool) string {
	if success {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusError
}
