package channel

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/relaymesh/go-rmc/pkg/exchange"
)

// Registry holds every established channel. Establishment and closure are
// owner-authorized operations performed outside the delivery engine; the
// engine only ever looks channels up.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
	}
}

// Establish registers a new channel from the given configuration and
// returns it. A missing ChannelID is filled with a generated identifier.
// Re-establishing an id that is still registered fails with
// ErrChannelExists, including for closed channels: cursors reset only
// through an explicit Remove followed by Establish.
func (r *Registry) Establish(cfg Config) (*Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = uuid.NewString()
	}
	if cfg.Pattern == "" {
		cfg.Pattern = exchange.Default
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[cfg.ChannelID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, cfg.ChannelID)
	}

	ch := newChannel(cfg)
	r.channels[cfg.ChannelID] = ch
	return ch, nil
}

// Get returns the channel registered under id.
func (r *Registry) Get(id string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// Close deactivates the channel registered under id. The channel remains
// registered so that its cursors and identity stay authoritative; it just
// refuses further traffic.
func (r *Registry) Close(id string) error {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}

	ch.close()
	return nil
}

// Remove drops a channel from the registry entirely. Only a removed id
// can be re-established, which is the one path that resets cursors.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[id]; !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	delete(r.channels, id)
	return nil
}

// List returns all registered channels.
func (r *Registry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}
