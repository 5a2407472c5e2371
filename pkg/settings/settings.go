package settings

import (
	"errors"
)

// ErrNotFound is returned by a Provider when no settings exist for a connection.
var ErrNotFound = errors.New("settings not found")

// Connection identifies the Pub/Sub connection a transformer is bound to.
// It is created by the host before a transformer is initialized and does not
// change for the connection's lifetime.
type Connection struct {
	ID        string `json:"id" firestore:"id" koanf:"id"`
	ProjectID string `json:"projectId" firestore:"projectId" koanf:"project_id"`
}

// Setting is a single custom setting. Names may repeat within Settings.
type Setting struct {
	Name  string `json:"name" firestore:"name" koanf:"name"`
	Value string `json:"value" firestore:"value" koanf:"value"`
}

// Settings is an ordered, possibly multi-valued list of custom settings.
// The zero value is an empty, usable Settings. A Settings value is never
// mutated after construction, so it can be shared between goroutines.
type Settings struct {
	entries []Setting
}

// New copies the given entries into a new Settings, preserving their order.
func New(entries ...Setting) Settings {
	if len(entries) == 0 {
		return Settings{}
	}
	cp := make([]Setting, len(entries))
	copy(cp, entries)
	return Settings{entries: cp}
}

// FromPairs builds Settings from alternating name/value strings.
// A trailing name without a value is ignored.
func FromPairs(pairs ...string) Settings {
	entries := make([]Setting, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, Setting{Name: pairs[i], Value: pairs[i+1]})
	}
	return Settings{entries: entries}
}

// First returns the value of the first setting with the given name.
func (s Settings) First(name string) (string, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// All returns every value stored under name, in declaration order.
func (s Settings) All(name string) []string {
	var values []string
	for _, e := range s.entries {
		if e.Name == name {
			values = append(values, e.Value)
		}
	}
	return values
}

// Len returns the number of entries, counting repeated names.
func (s Settings) Len() int {
	return len(s.entries)
}

// Names returns the distinct setting names in order of first appearance.
func (s Settings) Names() []string {
	seen := make(map[string]struct{}, len(s.entries))
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	return names
}

// Entries returns a copy of the underlying entries.
func (s Settings) Entries() []Setting {
	cp := make([]Setting, len(s.entries))
	copy(cp, s.entries)
	return cp
}

// Settings lets a Settings value act as a Source that never fails.
func (s Settings) Settings() (Settings, error) {
	return s, nil
}
