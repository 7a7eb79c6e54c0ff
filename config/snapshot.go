package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Snapshot is a concurrency-safe, swappable Config: the read-locked atomic
// config swap the AMBIENT STACK calls for. The file watcher replaces it
// wholesale on reload; the config.set gateway method patches a single
// dot-separated path into it in place.
type Snapshot struct {
	mu  sync.RWMutex
	cfg Config
}

// NewSnapshot wraps an initial Config value.
func NewSnapshot(cfg Config) *Snapshot {
	return &Snapshot{cfg: cfg}
}

// Get returns the current config value.
func (s *Snapshot) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps in a new config wholesale, e.g. after a file reload.
func (s *Snapshot) Replace(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// GetPath returns the value at a dot-separated path into the config (e.g.
// "agents.defaults.model"), or the whole config when path is empty.
func (s *Snapshot) GetPath(path string) (any, error) {
	raw, err := s.asMap()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return raw, nil
	}
	return lookupPath(raw, strings.Split(path, "."))
}

// SetPath merges value into the config at a dot-separated path.
func (s *Snapshot) SetPath(path string, value any) error {
	if path == "" {
		return fmt.Errorf("config path must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := toMap(s.cfg)
	if err != nil {
		return err
	}
	setPath(raw, strings.Split(path, "."), value)

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("decode config after set: %w", err)
	}
	s.cfg = next
	return nil
}

func (s *Snapshot) asMap() (map[string]any, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	return toMap(cfg)
}

func toMap(cfg Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return raw, nil
}

func lookupPath(node any, parts []string) (any, error) {
	if len(parts) == 0 {
		return node, nil
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("path segment %q is not an object", parts[0])
	}
	child, ok := m[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown config path %q", parts[0])
	}
	return lookupPath(child, parts[1:])
}

func setPath(node map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		node[parts[0]] = value
		return
	}
	child, ok := node[parts[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		node[parts[0]] = child
	}
	setPath(child, parts[1:], value)
}
