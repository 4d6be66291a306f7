package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// ErrDetectorNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested detector name.
var ErrDetectorNotRegistered = errors.New("config: detector not registered")

// Registry maps detector names to their constructor functions. The embedding
// application registers the built-in backends ("mock", "remote") at startup
// and may add its own. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(DetectorConfig) (detector.Detector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(DetectorConfig) (detector.Detector, error)),
	}
}

// Register registers a detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(DetectorConfig) (detector.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a detector using the factory registered under cfg.Name.
// Returns [ErrDetectorNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(cfg DetectorConfig) (detector.Detector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDetectorNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
