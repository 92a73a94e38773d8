package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moneyprotocol/engineering-sub002/internal/model"
)

// Schema creates the journal tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_changes (
	id               UUID PRIMARY KEY,
	fields           TEXT[] NOT NULL,
	price            NUMERIC NOT NULL,
	total_collateral NUMERIC NOT NULL,
	total_debt       NUMERIC NOT NULL,
	borrowing_rate   NUMERIC NOT NULL,
	redemption_rate  NUMERIC NOT NULL,
	recovery_mode    BOOLEAN NOT NULL,
	state            JSONB NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vault_changes_recorded_at ON vault_changes (recorded_at DESC);

CREATE TABLE IF NOT EXISTS mirror_snapshot (
	id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendChange(ctx context.Context, c *model.ChangeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_changes (id, fields, price, total_collateral, total_debt,
		                            borrowing_rate, redemption_rate, recovery_mode, state, recorded_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::JSONB, $10)`,
		c.ID, c.Fields,
		c.Price.String(), c.TotalCollateral.String(), c.TotalDebt.String(),
		c.BorrowingRate.String(), c.RedemptionRate.String(),
		c.RecoveryMode, string(c.State), c.RecordedAt,
	)
	return err
}

const changeColumns = `id::TEXT, fields,
	price::TEXT, total_collateral::TEXT, total_debt::TEXT,
	borrowing_rate::TEXT, redemption_rate::TEXT,
	recovery_mode, state::TEXT, recorded_at`

func (s *PostgresStore) GetChange(ctx context.Context, id string) (*model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM vault_changes WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", id, err)
	}
	defer rows.Close()

	changes, err := scanChanges(rows)
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", id, err)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("change %s: %w", id, ErrNotFound)
	}
	return &changes[0], nil
}

func (s *PostgresStore) RecentChanges(ctx context.Context, limit int) ([]model.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM vault_changes
		 ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChanges(rows)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mirror_snapshot (id, state, updated_at) VALUES (1, $1::JSONB, $2)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		string(snap.State), snap.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var state string

	err := s.pool.QueryRow(ctx,
		`SELECT state::TEXT, updated_at FROM mirror_snapshot WHERE id = 1`).
		Scan(&state, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.State = json.RawMessage(state)
	return &snap, nil
}

// scanChanges reads pgx rows into ChangeRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanChanges(rows pgxRows) ([]model.ChangeRecord, error) {
	var changes []model.ChangeRecord
	for rows.Next() {
		var c model.ChangeRecord
		var priceS, collS, debtS, borrowS, redeemS, state string

		if err := rows.Scan(&c.ID, &c.Fields,
			&priceS, &collS, &debtS,
			&borrowS, &redeemS,
			&c.RecoveryMode, &state, &c.RecordedAt); err != nil {
			return nil, err
		}

		for _, col := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&c.Price, priceS},
			{&c.TotalCollateral, collS},
			{&c.TotalDebt, debtS},
			{&c.BorrowingRate, borrowS},
			{&c.RedemptionRate, redeemS},
		} {
			d, err := decimal.NewFromString(col.src)
			if err != nil {
				return nil, fmt.Errorf("change %s: parse amount %q: %w", c.ID, col.src, err)
			}
			*col.dst = d
		}
		c.State = json.RawMessage(state)

		changes = append(changes, c)
	}
	return changes, rows.Err()
}
