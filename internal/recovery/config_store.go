package recovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/doctor"
)

// ConfigStore is the Recovery Handler's in-memory view of the running
// configuration (spec §4.6 "Persistence: config set updates are in-memory
// only; config reload re-reads from disk but applies only LLM and browser
// sections"). It is backed by the same raw map[string]any representation
// doctor.LoadRawConfig/WriteRawConfig use for migrations.
type ConfigStore struct {
	mu   sync.Mutex
	path string
	raw  map[string]any
}

// NewConfigStore loads path once at startup into the in-memory store.
func NewConfigStore(path string) (*ConfigStore, error) {
	raw, err := doctor.LoadRawConfig(path)
	if err != nil {
		return nil, fmt.Errorf("recovery: loading config: %w", err)
	}
	return &ConfigStore{path: path, raw: raw}, nil
}

// Get reads a dotted key (e.g. "llm.budget.daily_limit_usd").
func (c *ConfigStore) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getPath(c.raw, strings.Split(key, "."))
}

// Set writes a dotted key after IsWritableKey approves it. value is parsed
// as JSON when possible (numbers, bools, objects), else stored as a raw
// string.
func (c *ConfigStore) Set(key, value string) error {
	if !IsWritableKey(key) {
		return fmt.Errorf("recovery: key %q is not writable", key)
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	setPath(c.raw, strings.Split(key, "."), parsed)
	return nil
}

// Reload re-reads the config file from disk and copies over only the
// reloadable sections (llm, browser), leaving every other section — in
// particular anything security-critical — at its current running value.
func (c *ConfigStore) Reload() error {
	fresh, err := doctor.LoadRawConfig(c.path)
	if err != nil {
		return fmt.Errorf("recovery: reloading config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for section, value := range fresh {
		if IsReloadableSection(section) {
			c.raw[section] = value
		}
	}
	return nil
}

// Snapshot returns a shallow copy of the whole in-memory config map,
// primarily for tests and /health full diagnostics.
func (c *ConfigStore) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}

func getPath(m map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	v, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	next, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return getPath(next, parts[1:])
}

func setPath(m map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		m[parts[0]] = value
		return
	}
	next, ok := m[parts[0]].(map[string]any)
	if !ok {
		next = make(map[string]any)
		m[parts[0]] = next
	}
	setPath(next, parts[1:], value)
}
