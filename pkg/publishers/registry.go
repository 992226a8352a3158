package publishers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Builder creates a Publisher from a validated config entry.
type Builder func(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error)

// Registry maps publisher types to builders. It is populated at startup and read-only afterwards.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// DefaultRegistry knows every sink this package ships.
func DefaultRegistry() *Registry {
	return NewRegistry().
		Register(TypeHTTP, newHTTPPublisher).
		Register(TypeSQS, newSQSPublisher).
		Register(TypeSNS, newSNSPublisher).
		Register(TypeGCPPubSub, newGCPPubSubPublisher)
}

// Register adds or replaces the builder for typ and returns r.
func (r *Registry) Register(typ string, b Builder) *Registry {
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ != "" && b != nil {
		r.builders[typ] = b
	}
	return r
}

// Types lists the registered types in order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.builders))
	for typ := range r.builders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build creates the publisher for one entry.
func (r *Registry) Build(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	b, ok := r.builders[strings.ToLower(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("publisher %q: no builder for type %q (known: %s)", cfg.ID, cfg.Type, strings.Join(r.Types(), ", "))
	}
	return b(ctx, cfg, log)
}

// Fanout builds every enabled entry into one Fanout. When an entry fails the
// publishers built so far are closed.
func (r *Registry) Fanout(ctx context.Context, cfgs []PublisherConfig, log Logger) (*Fanout, error) {
	var pubs []Publisher
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			continue
		}
		pub, err := r.Build(ctx, cfg, log)
		if err != nil {
			if cerr := NewFanout(pubs).Close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return NewFanout(pubs), nil
}
