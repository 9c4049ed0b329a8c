// Command seeder applies the offer migrations and grants demo customer offers.
// With a Redis URL the granted customers' cached offers are dropped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

type seed struct {
	customer   string
	percentage string
	lifetime   bool
}

var demoOffers = []seed{
	{"6f1c2a0e-3d4b-4c1a-9b1e-0a5d2f7c8e11", "10", true},
	{"6f1c2a0e-3d4b-4c1a-9b1e-0a5d2f7c8e11", "5", false},
	{"b7e4d9c2-1a6f-4e3b-8d2c-5f9a0b1c2d33", "15", true},
	{"0c9d8e7f-6a5b-4c3d-2e1f-0a9b8c7d6e55", "2.5", false},
}

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("cmd", "seeder").Logger()

	dsn := flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres DSN")
	redisURL := flag.String("redis-url", os.Getenv("REDIS_URL"), "redis URL of the offer cache (optional)")
	flag.Parse()
	if *dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if err := offer.Migrate(*dsn); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	var src offer.Granter = offer.NewPostgresSource(pool)
	if *redisURL != "" {
		opts, err := redis.ParseURL(*redisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		src = offer.NewCachedSource(offer.NewPostgresSource(pool), client, time.Minute, logger)
	}
	for _, s := range demoOffers {
		o, err := s.offer()
		if err != nil {
			logger.Fatal().Err(err).Msg("build demo offer")
		}
		if err := src.Grant(ctx, uuid.MustParse(s.customer), o); err != nil {
			logger.Fatal().Err(err).Str("customer_id", s.customer).Msg("grant offer")
		}
	}
	logger.Info().Int("offers", len(demoOffers)).Msg("seeding completed")
}

func (s seed) offer() (pricing.CustomerOffer, error) {
	pct, err := decimal.NewFromString(s.percentage)
	if err != nil {
		return pricing.CustomerOffer{}, fmt.Errorf("percentage %q: %w", s.percentage, err)
	}
	o := pricing.CustomerOffer{Percentage: pct, ValidFrom: time.Now().UTC(), Lifetime: s.lifetime}
	if !s.lifetime {
		o.ValidUntil = o.ValidFrom.AddDate(0, 3, 0)
	}
	return o, nil
}
