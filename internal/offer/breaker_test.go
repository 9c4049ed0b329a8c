package offer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

func TestGuardedSourceOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	breaker := offer.NewBreaker(2, 0.5, time.Minute, zerolog.Nop())
	breaker.Now = func() time.Time { return now }

	next := &countingSource{err: errors.New("connection refused")}
	src := offer.NewGuardedSource(next, breaker)
	ctx := context.Background()
	customer := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := src.ForCustomer(ctx, customer)
		require.EqualError(t, err, "connection refused")
	}

	_, err := src.ForCustomer(ctx, customer)
	require.ErrorIs(t, err, offer.ErrBreakerOpen)
	require.EqualValues(t, 2, next.calls.Load(), "open breaker must not reach the store")

	now = now.Add(time.Minute)
	next.err = nil
	next.offers = []pricing.CustomerOffer{tenPercent()}

	got, err := src.ForCustomer(ctx, customer)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = src.ForCustomer(ctx, customer)
	require.NoError(t, err)
	require.EqualValues(t, 4, next.calls.Load())
}

func TestGuardedSourceIgnoresCancelledCallers(t *testing.T) {
	breaker := offer.NewBreaker(1, 0.5, time.Minute, zerolog.Nop())
	next := &countingSource{err: context.Canceled}
	src := offer.NewGuardedSource(next, breaker)

	for i := 0; i < 3; i++ {
		_, err := src.ForCustomer(context.Background(), uuid.New())
		require.ErrorIs(t, err, context.Canceled)
	}
	require.EqualValues(t, 3, next.calls.Load())
}
