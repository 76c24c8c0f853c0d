package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaymesh/go-rmc/pkg/transport"
)

// Common errors
var (
	// ErrNoEndpoint is returned when no endpoint is known for a channel
	ErrNoEndpoint = errors.New("no endpoint found for channel")
	// ErrNoRecordsFound is returned when the DNS lookup yields no TXT records
	ErrNoRecordsFound = errors.New("no discovery records found")
	// ErrInvalidRecord is returned when a TXT record cannot be parsed
	ErrInvalidRecord = errors.New("invalid discovery record format")
	// ErrInvalidDomain is returned when no domain is configured for a channel
	ErrInvalidDomain = errors.New("no discovery domain configured for channel")
)

// Resolver maps a channel identifier to the relay endpoint URL its
// packets should be posted to.
type Resolver interface {
	Resolve(ctx context.Context, channelID string) (string, error)
}

// StaticResolver serves endpoints from a fixed map.
type StaticResolver struct {
	endpoints map[string]string
}

// NewStaticResolver creates a resolver over a channel-to-URL map.
func NewStaticResolver(endpoints map[string]string) *StaticResolver {
	copied := make(map[string]string, len(endpoints))
	for id, url := range endpoints {
		copied[id] = url
	}
	return &StaticResolver{endpoints: copied}
}

// Resolve returns the configured endpoint for the channel.
func (r *StaticResolver) Resolve(_ context.Context, channelID string) (string, error) {
	endpoint, ok := r.endpoints[channelID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoEndpoint, channelID)
	}
	return endpoint, nil
}

// Endpoints adapts a Resolver into the transport layer's endpoint
// lookup function.
func Endpoints(r Resolver) transport.EndpointFunc {
	return func(ctx context.Context, channelID string) (string, error) {
		endpoint, err := r.Resolve(ctx, channelID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", transport.ErrNoRoute, err)
		}
		return endpoint, nil
	}
}

var _ Resolver = (*StaticResolver)(nil)
