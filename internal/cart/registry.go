package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

type entry struct {
	mu       sync.Mutex
	cart     *Cart
	lastUsed time.Time
}

// Registry keeps open carts in memory. Each cart has its own lock so one
// terminal's edits are serialised without blocking the others.
type Registry struct {
	TTL time.Duration
	Now func() time.Time

	mu     sync.Mutex
	engine *pricing.Engine
	carts  map[uuid.UUID]*entry
}

// NewRegistry returns an empty registry whose new carts are priced by engine.
func NewRegistry(engine *pricing.Engine, ttl time.Duration) *Registry {
	return &Registry{TTL: ttl, engine: engine, carts: make(map[uuid.UUID]*entry)}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) ttl() time.Duration {
	if r.TTL <= 0 {
		return 12 * time.Hour
	}
	return r.TTL
}

// Engine returns the engine used for new carts.
func (r *Registry) Engine() *pricing.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Create opens a new empty cart and returns its id.
func (r *Registry) Create() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := New(r.engine)
	r.carts[c.ID] = &entry{cart: c, lastUsed: r.now()}
	return c.ID
}

// With runs fn while holding the cart's lock.
func (r *Registry) With(id uuid.UUID, fn func(*Cart) error) error {
	r.mu.Lock()
	e, ok := r.carts[id]
	if ok {
		e.lastUsed = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.cart)
}

// Delete forgets a cart.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(r.carts, id)
	return nil
}

// Len reports the number of open carts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}

// SetEngine makes engine the rule set of every open cart and of carts created
// afterwards. Open carts are re-priced.
func (r *Registry) SetEngine(engine *pricing.Engine) {
	r.mu.Lock()
	r.engine = engine
	entries := make([]*entry, 0, len(r.carts))
	for _, e := range r.carts {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.cart.UseEngine(engine)
		e.mu.Unlock()
	}
}

// Sweep evicts carts idle for longer than TTL and returns how many it removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl())
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.carts {
		if e.lastUsed.Before(cutoff) {
			delete(r.carts, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logger.Info().Int("evicted", n).Int("open", r.Len()).Msg("cart_sweep")
			}
		}
	}
}
