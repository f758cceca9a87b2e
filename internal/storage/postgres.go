package storage

import (
	"context"
	"fmt"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository and makes sure
// the schema exists
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

const pgUpsertFlight = `
	INSERT INTO flights (` + flightColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (flight_key) DO UPDATE SET
		idx = EXCLUDED.idx,
		registered = EXCLUDED.registered,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at,
		airline = EXCLUDED.airline,
		flight_code = EXCLUDED.flight_code,
		origin = EXCLUDED.origin,
		destination = EXCLUDED.destination,
		departure_time = EXCLUDED.departure_time,
		ticket_fee = EXCLUDED.ticket_fee
`

// SaveFlight inserts or updates a single flight record
func (r *PostgresRepository) SaveFlight(ctx context.Context, rec models.FlightRecord) error {
	if _, err := r.pool.Exec(ctx, pgUpsertFlight, toFlightRow(rec).args()...); err != nil {
		return fmt.Errorf("failed to save flight: %w", err)
	}
	return nil
}

// ReplaceFlights swaps the flight table content in one transaction
func (r *PostgresRepository) ReplaceFlights(ctx context.Context, recs []models.FlightRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM flights`); err != nil {
		return fmt.Errorf("failed to clear flights: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(pgUpsertFlight, toFlightRow(rec).args()...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert flights: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListFlights lists all flights in local index order
func (r *PostgresRepository) ListFlights(ctx context.Context) ([]models.FlightRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	var recs []models.FlightRecord
	for rows.Next() {
		var row flightRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flights: %w", err)
	}
	return recs, nil
}

// SaveOracle inserts or updates an oracle identity
func (r *PostgresRepository) SaveOracle(ctx context.Context, o models.OracleIdentity) error {
	query := `
		INSERT INTO oracles (address, index0, index1, index2)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			index0 = EXCLUDED.index0,
			index1 = EXCLUDED.index1,
			index2 = EXCLUDED.index2
	`
	_, err := r.pool.Exec(ctx, query,
		o.Address.Hex(),
		int16(o.Indexes[0]),
		int16(o.Indexes[1]),
		int16(o.Indexes[2]),
	)
	if err != nil {
		return fmt.Errorf("failed to save oracle: %w", err)
	}
	return nil
}

// ListOracles lists all oracles ordered by address
func (r *PostgresRepository) ListOracles(ctx context.Context) ([]models.OracleIdentity, error) {
	rows, err := r.pool.Query(ctx, `SELECT address, index0, index1, index2 FROM oracles ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list oracles: %w", err)
	}
	defer rows.Close()

	var res []models.OracleIdentity
	for rows.Next() {
		var (
			addr       string
			i0, i1, i2 int16
		)
		if err := rows.Scan(&addr, &i0, &i1, &i2); err != nil {
			return nil, fmt.Errorf("failed to scan oracle: %w", err)
		}
		res = append(res, models.OracleIdentity{
			Address: common.HexToAddress(addr),
			Indexes: models.Indexes{uint8(i0), uint8(i1), uint8(i2)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating oracles: %w", err)
	}
	return res, nil
}

// Ping checks the database connection
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
