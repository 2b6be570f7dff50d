package provider

import (
	"context"
	"sync"

	"github.com/rs/dnscache"
	"golang.org/x/sync/errgroup"

	"github.com/loa-finn/cheval/internal/cheval"
)

// Pool lazily builds and caches one Client per provider name, mirroring the
// original sidecar's ProviderPoolManager.
type Pool struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	resolver *dnscache.Resolver
}

// NewPool returns an empty pool. resolver may be nil.
func NewPool(resolver *dnscache.Resolver) *Pool {
	return &Pool{clients: make(map[string]*Client), resolver: resolver}
}

// GetOrCreate returns the Client for ref.Name, constructing and caching one
// on first use.
func (p *Pool) GetOrCreate(ctx context.Context, ref cheval.ProviderRef) (*Client, error) {
	p.mu.RLock()
	c, ok := p.clients[ref.Name]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[ref.Name]; ok {
		return c, nil
	}
	c, err := NewClient(ctx, ref, p.resolver)
	if err != nil {
		return nil, err
	}
	p.clients[ref.Name] = c
	return c, nil
}

// CloseAll releases idle connections for every pooled client concurrently.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.RLock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			c.CloseIdleConnections()
			return nil
		})
	}
	return g.Wait()
}
