// Package metrics provides named, concurrency-safe counters that transformers
// obtain from a CounterFactory at initialization time.
package metrics

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Counter is a monotonically increasing count.
type Counter interface {
	Inc()
	Add(n int64)
	Count() int64
}

// CounterFactory hands out named counters. Asking twice for the same name
// returns the same counter.
type CounterFactory interface {
	Counter(name string) Counter
}

// AtomicCounter is a lock-free Counter. The zero value is ready to use.
type AtomicCounter struct {
	v atomic.Int64
}

// Inc adds one.
func (c *AtomicCounter) Inc() { c.v.Add(1) }

// Add adds n. Negative values are ignored so the counter never decreases.
func (c *AtomicCounter) Add(n int64) {
	if n > 0 {
		c.v.Add(n)
	}
}

// Count returns the current value.
func (c *AtomicCounter) Count() int64 { return c.v.Load() }

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Namespace is prepended to every exported metric name.
	Namespace string
	// ConstLabels are attached to every exported metric, e.g. the connection id.
	ConstLabels prometheus.Labels
}

// Registry is a CounterFactory whose counters are exported to Prometheus.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*AtomicCounter
	registerer prometheus.Registerer
	cfg        RegistryConfig
	logger     zerolog.Logger
}

// NewRegistry creates a Registry exporting through registerer.
// A nil registerer keeps counters local and exports nothing.
func NewRegistry(cfg RegistryConfig, registerer prometheus.Registerer, logger zerolog.Logger) *Registry {
	return &Registry{
		counters:   make(map[string]*AtomicCounter),
		registerer: registerer,
		cfg:        cfg,
		logger:     logger.With().Str("component", "MetricsRegistry").Logger(),
	}
}

// Counter returns the counter registered under name, creating it on first use.
func (r *Registry) Counter(name string) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &AtomicCounter{}
	r.counters[name] = c

	if r.registerer != nil {
		cf := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   r.cfg.Namespace,
			Name:        SanitizeName(name),
			Help:        "Bridge counter " + name,
			ConstLabels: r.cfg.ConstLabels,
		}, func() float64 { return float64(c.Count()) })
		if err := r.registerer.Register(cf); err != nil {
			// The counter keeps counting even if it cannot be exported.
			r.logger.Warn().Err(err).Str("counter", name).Msg("Failed to register counter with Prometheus.")
		}
	}
	return c
}

// Snapshot returns the current value of every counter created so far.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Count()
	}
	return out
}

// SanitizeName maps a dotted or hyphenated counter name onto the Prometheus
// metric name alphabet.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

type discardCounter struct{}

func (discardCounter) Inc()         {}
func (discardCounter) Add(int64)    {}
func (discardCounter) Count() int64 { return 0 }

type discardFactory struct{}

func (discardFactory) Counter(string) Counter { return discardCounter{} }

// Discard is a CounterFactory whose counters record nothing.
var Discard CounterFactory = discardFactory{}
