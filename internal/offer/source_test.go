package offer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var since = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tenPercent() pricing.CustomerOffer {
	return pricing.CustomerOffer{Percentage: decimal.NewFromInt(10), ValidFrom: since, Lifetime: true}
}

type countingSource struct {
	calls  atomic.Int32
	offers []pricing.CustomerOffer
	err    error
}

func (s *countingSource) ForCustomer(context.Context, uuid.UUID) ([]pricing.CustomerOffer, error) {
	s.calls.Add(1)
	return s.offers, s.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStaticSourceReturnsCopies(t *testing.T) {
	src := offer.NewStaticSource()
	customer := uuid.New()
	src.Put(customer, tenPercent())

	got, err := src.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].Percentage = decimal.NewFromInt(99)

	again, err := src.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	require.True(t, again[0].Percentage.Equal(decimal.NewFromInt(10)))

	none, err := src.ForCustomer(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestCachedSourceServesFromRedis(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingSource{offers: []pricing.CustomerOffer{tenPercent()}}
	cached := offer.NewCachedSource(next, client, time.Minute, zerolog.Nop())
	customer := uuid.New()

	first, err := cached.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	second, err := cached.ForCustomer(context.Background(), customer)
	require.NoError(t, err)

	require.Equal(t, int32(1), next.calls.Load())
	require.Len(t, second, 1)
	require.True(t, second[0].Percentage.Equal(first[0].Percentage))
	require.True(t, second[0].ValidFrom.Equal(since))
	require.True(t, second[0].Lifetime)
	require.True(t, mr.Exists("kasir:offers:"+customer.String()))

	mr.FastForward(2 * time.Minute)
	_, err = cached.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestCachedSourceInvalidate(t *testing.T) {
	_, client := newRedis(t)
	next := &countingSource{offers: []pricing.CustomerOffer{tenPercent()}}
	cached := offer.NewCachedSource(next, client, time.Minute, zerolog.Nop())
	customer := uuid.New()

	_, err := cached.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(context.Background(), customer))
	_, err = cached.ForCustomer(context.Background(), customer)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestCachedSourceDegradesWhenRedisDown(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingSource{offers: []pricing.CustomerOffer{tenPercent()}}
	cached := offer.NewCachedSource(next, client, time.Minute, zerolog.Nop())
	mr.Close()

	got, err := cached.ForCustomer(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCachedSourcePropagatesSourceErrors(t *testing.T) {
	_, client := newRedis(t)
	boom := errors.New("db down")
	cached := offer.NewCachedSource(&countingSource{err: boom}, client, time.Minute, zerolog.Nop())

	_, err := cached.ForCustomer(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)
}

func TestCachedSourceWithoutClient(t *testing.T) {
	next := &countingSource{offers: []pricing.CustomerOffer{tenPercent()}}
	cached := offer.NewCachedSource(next, nil, time.Minute, zerolog.Nop())
	for i := 0; i < 2; i++ {
		_, err := cached.ForCustomer(context.Background(), uuid.New())
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), next.calls.Load())
	require.NoError(t, cached.Invalidate(context.Background(), uuid.New()))
}

func TestCachedSourceGrantInvalidates(t *testing.T) {
	_, client := newRedis(t)
	static := offer.NewStaticSource()
	cached := offer.NewCachedSource(static, client, time.Hour, zerolog.Nop())
	customer := uuid.New()
	ctx := context.Background()

	got, err := cached.ForCustomer(ctx, customer)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, cached.Grant(ctx, customer, tenPercent()))
	got, err = cached.ForCustomer(ctx, customer)
	require.NoError(t, err)
	require.Len(t, got, 1, "a grant must be visible before the cache entry expires")
}

func TestCachedSourceGrantNeedsWritableSource(t *testing.T) {
	_, client := newRedis(t)
	cached := offer.NewCachedSource(&countingSource{}, client, time.Hour, zerolog.Nop())
	err := cached.Grant(context.Background(), uuid.New(), tenPercent())
	require.ErrorIs(t, err, offer.ErrReadOnly)
}
