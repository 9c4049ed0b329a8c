package offer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

type stubRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.data[r.pos-1], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*time.Time) = row[1].(time.Time)
	*dest[2].(**time.Time) = row[2].(*time.Time)
	*dest[3].(*bool) = row[3].(bool)
	return nil
}

type stubQuerier struct {
	rows     *stubRows
	queryErr error
	execArgs []any
	lastSQL  string
}

func (q *stubQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastSQL = sql
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func (q *stubQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL = sql
	q.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresSourceScansOffers(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 1, 0)
	q := &stubQuerier{rows: &stubRows{data: [][]any{
		{"12.50", from, &until, false},
		{"5", from, (*time.Time)(nil), true},
	}}}

	offers, err := NewPostgresSource(q).ForCustomer(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, "12.5", offers[0].Percentage.String())
	require.True(t, offers[0].ValidUntil.Equal(until))
	require.True(t, offers[1].ValidUntil.IsZero())
	require.True(t, offers[1].Lifetime)
	require.Contains(t, q.lastSQL, "percentage::text")
}

func TestPostgresSourceErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewPostgresSource(&stubQuerier{queryErr: boom}).ForCustomer(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)

	_, err = NewPostgresSource(&stubQuerier{rows: &stubRows{err: boom}}).ForCustomer(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)

	bad := &stubQuerier{rows: &stubRows{data: [][]any{{"ten", time.Now(), (*time.Time)(nil), false}}}}
	_, err = NewPostgresSource(bad).ForCustomer(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestPostgresSourceGrant(t *testing.T) {
	q := &stubQuerier{}
	customer := uuid.New()
	err := NewPostgresSource(q).Grant(context.Background(), customer, pricing.CustomerOffer{
		Percentage: decimal.RequireFromString("7.5"),
	})
	require.NoError(t, err)
	require.Equal(t, customer.String(), q.execArgs[0])
	require.Equal(t, "7.5", q.execArgs[1])
	require.False(t, q.execArgs[2].(time.Time).IsZero())
	require.Nil(t, q.execArgs[3])
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/kasir?sslmode=disable", migrateURL("postgres://u:p@db:5432/kasir?sslmode=disable"))
	require.Equal(t, "pgx5://db/kasir", migrateURL("postgresql://db/kasir"))
	require.Equal(t, "pgx5://db/kasir", migrateURL("pgx5://db/kasir"))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	up, err := migrationFS.ReadFile("migrations/000001_customer_offers.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS customer_offers")
}
