package pricing

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

// Diagnostics receives degraded-mode warnings from the engine. Implementations
// must report each key at most once.
type Diagnostics interface {
	WarnOnce(key, message string)
}

// NopDiagnostics discards every warning.
type NopDiagnostics struct{}

// WarnOnce implements Diagnostics.
func (NopDiagnostics) WarnOnce(string, string) {}

// LogDiagnostics writes each distinct warning once to a zerolog logger. It is
// safe to share between carts.
type LogDiagnostics struct {
	logger zerolog.Logger
	mu     sync.Mutex
	seen   map[string]struct{}
}

// NewLogDiagnostics constructs a sink writing to logger.
func NewLogDiagnostics(logger zerolog.Logger) *LogDiagnostics {
	return &LogDiagnostics{logger: logger, seen: make(map[string]struct{})}
}

// WarnOnce implements Diagnostics.
func (d *LogDiagnostics) WarnOnce(key, message string) {
	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()

	kind, subject, _ := strings.Cut(key, ":")
	if obs.PricingDiagnosticsTotal != nil {
		obs.PricingDiagnosticsTotal.WithLabelValues(kind).Inc()
	}
	d.logger.Warn().Str("kind", kind).Str("subject", subject).Msg(message)
}

// Seen reports whether key has already been reported.
func (d *LogDiagnostics) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}
