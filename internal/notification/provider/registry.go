package provider

import (
	"fmt"
	"sort"

	"github.com/notisend/gateway/internal/notification/domain"
)

// Registry maps channels to their configured provider. It is built explicitly
// at startup and injected into the job processor; registration after that
// point is not supported, so reads need no locking.
type Registry struct {
	providers map[domain.Channel]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.Channel]Provider)}
}

// Register binds a provider to a channel, replacing any previous binding.
func (r *Registry) Register(channel domain.Channel, p Provider) {
	r.providers[channel] = p
}

// Resolve returns the provider for a channel.
func (r *Registry) Resolve(channel domain.Channel) (Provider, error) {
	p, ok := r.providers[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProviderForChannel, channel)
	}
	return p, nil
}

// Channels lists the channels with a registered provider, sorted for stable logs.
func (r *Registry) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.providers))
	for c := range r.providers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
