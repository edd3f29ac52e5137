package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists alert subscriptions in Postgres, one row per
// device token with the watched cities as a JSONB column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// InitSchema creates the subscriptions table if it does not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS alert_subscriptions (
		token TEXT PRIMARY KEY,
		cities JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, cities, created_at, updated_at FROM alert_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var cities []byte
		if err := rows.Scan(&sub.Token, &cities, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if err := json.Unmarshal(cities, &sub.Cities); err != nil {
			return nil, fmt.Errorf("failed to decode cities for %s: %w", sub.Token, err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) Upsert(ctx context.Context, sub Subscription) error {
	cities, err := json.Marshal(sub.Cities)
	if err != nil {
		return fmt.Errorf("failed to encode cities: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_subscriptions (token, cities, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (token)
		DO UPDATE SET cities = EXCLUDED.cities, updated_at = EXCLUDED.updated_at`,
		sub.Token, cities, now)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_subscriptions WHERE token = ANY($1)`, pq.Array(tokens))
	if err != nil {
		return fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
