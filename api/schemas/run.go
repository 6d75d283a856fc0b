package schemas

import (
	"sort"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DialogTitleKey is the settings key under which the login flow records the
// title of a blocking error dialog.
const DialogTitleKey = "ErrorDialogTitle"

// MockHitKeyPrefix prefixes the settings keys holding network mock hit counts.
const MockHitKeyPrefix = "NetworkMockHits:"

// SettingsMap is the run's shared, mutable key/value map. Interception
// callbacks write to it from the browser event goroutine, so all access goes
// through its mutex.
type SettingsMap struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewSettingsMap returns an empty map.
func NewSettingsMap() *SettingsMap {
	return &SettingsMap{values: make(map[string]interface{})}
}

func (m *SettingsMap) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// GetString returns the value for key if it is a string.
func (m *SettingsMap) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

func (m *SettingsMap) Set(key string, value interface{}) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Increment adds one to the integer counter at key and returns the new count.
func (m *SettingsMap) Increment(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := m.values[key].(int)
	n++
	m.values[key] = n
	return n
}

// Snapshot copies the map.
func (m *SettingsMap) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (m *SettingsMap) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// RunContext is the per-run state shared by the coordinator and the plugins it
// drives. It is created once per run and never shared between runs.
type RunContext struct {
	RunID    string
	Plan     *TestPlan
	Target   TargetInfo
	Logger   *zap.Logger
	Settings *SettingsMap
	// FS resolves plan-relative files such as mock response data.
	FS        afero.Fs
	OutputDir string
	// Page is the session page, set once the browser session is acquired.
	Page Page
}
