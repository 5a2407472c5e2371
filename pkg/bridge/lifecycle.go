package bridge

import (
	"sort"

	"github.com/illmade-knight/go-pubsub-bridge/pkg/metrics"
	"github.com/illmade-knight/go-pubsub-bridge/pkg/settings"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a transformer.
type State int32

const (
	// Uninitialized transformers have not completed Init. Transform still
	// works and behaves as if no settings were configured.
	Uninitialized State = iota
	// Ready transformers have completed Init, successfully or not.
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Counter names shared by both directions.
const (
	MissingDataCounterName        = "pubsub-to-mqtt.transformer.missing-data.count"
	InboundFailedCounterName      = "pubsub-to-mqtt.transformer.failed.count"
	OutboundFailedCounterName     = "mqtt-to-pubsub.transformer.failed.count"
	DestinationDroppedCounterName = "mqtt-to-pubsub.transformer.destination-dropped.count"
)

// resolved is what Init publishes to Transform. It is never mutated after
// it is stored, so concurrent Transform calls read it without locking.
type resolved struct {
	connection  settings.Connection
	settings    settings.Settings
	hasSettings bool
	logger      zerolog.Logger
}

// resolveSettings reads src under guard. A failure leaves the settings unset.
func resolveSettings(src settings.Source) (settings.Settings, error) {
	o := guard(func() (settings.Settings, error) {
		if src == nil {
			return settings.Settings{}, ErrNilInput
		}
		return src.Settings()
	})
	return o.value, o.err
}

// resolveCounter obtains a named counter under guard, falling back to a
// counter that records nothing.
func resolveCounter(factory metrics.CounterFactory, name string) (metrics.Counter, error) {
	o := guard(func() (metrics.Counter, error) {
		if factory == nil {
			return nil, ErrNilInput
		}
		c := factory.Counter(name)
		if c == nil {
			return nil, ErrNilInput
		}
		return c, nil
	})
	if o.failed() {
		return metrics.Discard.Counter(name), o.err
	}
	return o.value, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
