package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

// UpgradeFunc transforms a payload from version N to N+1.
type UpgradeFunc func(payload json.RawMessage) (json.RawMessage, error)

// DowngradeFunc transforms a payload from version N to N-1.
type DowngradeFunc func(payload json.RawMessage) (json.RawMessage, error)

// Strategy holds the upgrade/downgrade handler maps for one event type,
// both keyed by the version they start from (spec.md §4.6).
type Strategy struct {
	eventType  string
	current    int
	upgrades   map[int]UpgradeFunc   // keyed by source version N, produces N+1
	downgrades map[int]DowngradeFunc // keyed by source version N, produces N-1
}

// NewStrategy creates a Strategy for eventType whose latest known shape
// is currentVersion.
func NewStrategy(eventType string, currentVersion int) *Strategy {
	return &Strategy{
		eventType:  eventType,
		current:    currentVersion,
		upgrades:   make(map[int]UpgradeFunc),
		downgrades: make(map[int]DowngradeFunc),
	}
}

// OnUpgrade registers the handler that turns a version-N payload into
// version N+1.
func (s *Strategy) OnUpgrade(fromVersion int, fn UpgradeFunc) *Strategy {
	s.upgrades[fromVersion] = fn
	return s
}

// OnDowngrade registers the handler that turns a version toVersion+1
// payload into version toVersion.
func (s *Strategy) OnDowngrade(toVersion int, fn DowngradeFunc) *Strategy {
	s.downgrades[toVersion+1] = fn
	return s
}

// CanConsume reports whether a handler built for at most
// consumerVersion can understand an event of the given eventType and
// version — the compatibility check of spec.md §4.6: "presence of
// eventType and version <= currentVersion".
func (s *Strategy) CanConsume(eventType string, version, consumerVersion int) bool {
	if eventType != s.eventType {
		return false
	}
	return version <= consumerVersion
}

// UpgradeTo repeatedly applies registered upgrade handlers until payload
// reaches targetVersion (or fails because no path exists).
func (s *Strategy) UpgradeTo(payload json.RawMessage, fromVersion, targetVersion int) (json.RawMessage, error) {
	cur := fromVersion
	for cur < targetVersion {
		up, ok := s.upgrades[cur]
		if !ok {
			return nil, fmt.Errorf("events: no upgrade path for %s from v%d", s.eventType, cur)
		}
		var err error
		payload, err = up(payload)
		if err != nil {
			return nil, fmt.Errorf("events: upgrade %s v%d->v%d: %w", s.eventType, cur, cur+1, err)
		}
		cur++
	}
	return payload, nil
}

// DowngradeTo repeatedly applies registered downgrade handlers until
// payload reaches targetVersion.
func (s *Strategy) DowngradeTo(payload json.RawMessage, fromVersion, targetVersion int) (json.RawMessage, error) {
	cur := fromVersion
	for cur > targetVersion {
		down, ok := s.downgrades[cur]
		if !ok {
			return nil, fmt.Errorf("events: no downgrade path for %s from v%d", s.eventType, cur)
		}
		var err error
		payload, err = down(payload)
		if err != nil {
			return nil, fmt.Errorf("events: downgrade %s v%d->v%d: %w", s.eventType, cur, cur-1, err)
		}
		cur--
	}
	return payload, nil
}

// Registry is the process-wide, write-once-at-startup set of strategies
// (spec.md §9 "Global event registry": "never mutated after init; expose
// only lookup in hot paths").
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
	sealed     bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]*Strategy)}
}

// Register adds a Strategy at startup. Panics if called after Seal, to
// surface accidental hot-path mutation immediately rather than silently
// racing readers.
func (r *Registry) Register(s *Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic("events: cannot register a strategy after the registry is sealed")
	}
	r.strategies[s.eventType] = s
}

// Seal marks the registry read-only. Call once during process startup
// after all strategies are registered.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the Strategy for eventType, or false if none is
// registered.
func (r *Registry) Lookup(eventType string) (*Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[eventType]
	return s, ok
}

// Global is the process-wide registry, initialized once at startup by
// the application's composition root and read thereafter by persistence
// and listener edges.
var Global = NewRegistry()
