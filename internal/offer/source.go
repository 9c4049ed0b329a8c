// Package offer loads customer-specific percentage offers for the discount
// composer. Sources are read-only from the engine's point of view.
package offer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Source returns the offers granted to a customer. A customer without offers
// yields an empty slice and no error.
type Source interface {
	ForCustomer(ctx context.Context, customerID uuid.UUID) ([]pricing.CustomerOffer, error)
}

// Granter stores a new offer for a customer.
type Granter interface {
	Grant(ctx context.Context, customerID uuid.UUID, o pricing.CustomerOffer) error
}

// ErrReadOnly is returned when granting through a source that cannot store offers.
var ErrReadOnly = errors.New("offer: source is read-only")

// StaticSource serves offers held in memory. It backs deployments without a
// database and tests.
type StaticSource struct {
	mu     sync.RWMutex
	offers map[uuid.UUID][]pricing.CustomerOffer
}

// NewStaticSource returns an empty in-memory source.
func NewStaticSource() *StaticSource {
	return &StaticSource{offers: make(map[uuid.UUID][]pricing.CustomerOffer)}
}

// Put replaces the offers of customerID.
func (s *StaticSource) Put(customerID uuid.UUID, offers ...pricing.CustomerOffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[customerID] = append([]pricing.CustomerOffer(nil), offers...)
}

// Grant implements Granter.
func (s *StaticSource) Grant(_ context.Context, customerID uuid.UUID, o pricing.CustomerOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[customerID] = append(s.offers[customerID], o)
	return nil
}

// ForCustomer implements Source.
func (s *StaticSource) ForCustomer(_ context.Context, customerID uuid.UUID) ([]pricing.CustomerOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offers, ok := s.offers[customerID]
	if !ok {
		observeLookup("static", "miss")
		return []pricing.CustomerOffer{}, nil
	}
	observeLookup("static", "hit")
	return append([]pricing.CustomerOffer(nil), offers...), nil
}

func observeLookup(source, result string) {
	if obs.OfferLookupTotal != nil {
		obs.OfferLookupTotal.WithLabelValues(source, result).Inc()
	}
}
