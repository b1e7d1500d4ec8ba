package config

import "sync/atomic"

// Holder stores the active configuration and supports atomic hot reload.
// Readers call Get on every use; a failed Reload keeps the old config.
type Holder struct {
	current  atomic.Pointer[Config]
	yamlPath string
}

// NewHolder wraps an already-loaded config for subsequent reloads from yamlPath.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{yamlPath: yamlPath}
	h.current.Store(cfg)
	return h
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Reload re-runs the full load pipeline (defaults < YAML < ENV) and
// swaps in the result. On any error the previous config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}
