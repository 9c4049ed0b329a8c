package offer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Querier is the subset of pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const listOffersSQL = `SELECT percentage::text, valid_from, valid_until, lifetime
FROM customer_offers
WHERE customer_id = $1::uuid
ORDER BY valid_from, created_at`

const grantOfferSQL = `INSERT INTO customer_offers (customer_id, percentage, valid_from, valid_until, lifetime)
VALUES ($1::uuid, $2::numeric, $3, $4, $5)`

// PostgresSource reads offers from the customer_offers table.
type PostgresSource struct {
	db Querier
}

// NewPostgresSource wraps db.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

// ForCustomer implements Source.
func (s *PostgresSource) ForCustomer(ctx context.Context, customerID uuid.UUID) ([]pricing.CustomerOffer, error) {
	rows, err := s.db.Query(ctx, listOffersSQL, customerID.String())
	if err != nil {
		observeLookup("postgres", "error")
		return nil, fmt.Errorf("query customer offers: %w", err)
	}
	defer rows.Close()

	offers := []pricing.CustomerOffer{}
	for rows.Next() {
		var (
			pct      string
			from     time.Time
			until    *time.Time
			lifetime bool
		)
		if err := rows.Scan(&pct, &from, &until, &lifetime); err != nil {
			observeLookup("postgres", "error")
			return nil, fmt.Errorf("scan customer offer: %w", err)
		}
		percentage, err := decimal.NewFromString(pct)
		if err != nil {
			observeLookup("postgres", "error")
			return nil, fmt.Errorf("parse offer percentage %q: %w", pct, err)
		}
		o := pricing.CustomerOffer{Percentage: percentage, ValidFrom: from, Lifetime: lifetime}
		if until != nil {
			o.ValidUntil = *until
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		observeLookup("postgres", "error")
		return nil, fmt.Errorf("iterate customer offers: %w", err)
	}
	if len(offers) == 0 {
		observeLookup("postgres", "miss")
	} else {
		observeLookup("postgres", "hit")
	}
	return offers, nil
}

// Grant stores a new offer for customerID.
func (s *PostgresSource) Grant(ctx context.Context, customerID uuid.UUID, o pricing.CustomerOffer) error {
	var until *time.Time
	if !o.ValidUntil.IsZero() {
		until = &o.ValidUntil
	}
	from := o.ValidFrom
	if from.IsZero() {
		from = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, grantOfferSQL, customerID.String(), o.Percentage.String(), from, until, o.Lifetime); err != nil {
		return fmt.Errorf("insert customer offer: %w", err)
	}
	return nil
}
