// Package logger provides a zap-based stats collector that logs metrics.
package logger

import (
	"go.uber.org/zap"

	"github.com/discochess/chunkcache/internal/stats"
)

// Collector implements stats.Collector by logging metrics via zap.
type Collector struct {
	logger *zap.Logger
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new logger-based collector.
// If logger is nil, a no-op logger is used.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger}
}

// IncCounter logs a counter increment.
func (c *Collector) IncCounter(name string, delta int64, labels ...stats.Label) {
	c.logger.Debug("counter", fields(name, zap.Int64("delta", delta), labels)...)
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64, labels ...stats.Label) {
	c.logger.Debug("gauge", fields(name, zap.Int64("value", value), labels)...)
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64, labels ...stats.Label) {
	c.logger.Debug("histogram", fields(name, zap.Float64("value", value), labels)...)
}

func fields(name string, value zap.Field, labels []stats.Label) []zap.Field {
	fs := make([]zap.Field, 0, 2+len(labels))
	fs = append(fs, zap.String("metric", name), value)
	for _, l := range labels {
		fs = append(fs, zap.String(l.Name, l.Value))
	}
	return fs
}
