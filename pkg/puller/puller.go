package puller

import (
	"context"
	"sort"
	"sync"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// Puller defines the interface for sensors that are polled over the network
type Puller interface {
	// GetProviderType returns the provider type identifier (e.g., "airgradient")
	GetProviderType() string

	// Pull fetches one reading from the sensor
	Pull(ctx context.Context) (models.Reading, error)

	// Reset tears down the connection so the next Pull starts afresh
	Reset()
}

// DecodeFailure is implemented by Pull errors that report an unusable payload
// rather than a transport problem
type DecodeFailure interface {
	error
	DecodeFailure()
}

// PullerRegistry holds all registered data pullers
type PullerRegistry struct {
	mu      sync.RWMutex
	pullers map[string]Puller
}

// NewPullerRegistry creates a new puller registry
func NewPullerRegistry() *PullerRegistry {
	return &PullerRegistry{
		pullers: make(map[string]Puller),
	}
}

// Register adds a puller to the registry
func (r *PullerRegistry) Register(p Puller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pullers[p.GetProviderType()] = p
}

// Get retrieves a puller by provider type
func (r *PullerRegistry) Get(providerType string) (Puller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pullers[providerType]
	return p, ok
}

// All returns all registered pullers ordered by provider type
func (r *PullerRegistry) All() []Puller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pullers := make([]Puller, 0, len(r.pullers))
	for _, p := range r.pullers {
		pullers = append(pullers, p)
	}
	sort.Slice(pullers, func(i, j int) bool {
		return pullers[i].GetProviderType() < pullers[j].GetProviderType()
	})
	return pullers
}

// Types returns the registered provider types in sorted order
func (r *PullerRegistry) Types() []string {
	all := r.All()
	types := make([]string, len(all))
	for i, p := range all {
		types[i] = p.GetProviderType()
	}
	return types
}
