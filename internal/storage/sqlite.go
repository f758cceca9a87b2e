package storage

import (
	"context"
	"database/sql"
	"fmt"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements the Repository interface on an embedded
// SQLite database
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens or creates the database at path.
// An empty path or ":memory:" gives a private in-memory database.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection, so an in-memory database is shared by every query
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

const sqliteUpsertFlight = `
	INSERT INTO flights (` + flightColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (flight_key) DO UPDATE SET
		idx = excluded.idx,
		registered = excluded.registered,
		status = excluded.status,
		updated_at = excluded.updated_at,
		airline = excluded.airline,
		flight_code = excluded.flight_code,
		origin = excluded.origin,
		destination = excluded.destination,
		departure_time = excluded.departure_time,
		ticket_fee = excluded.ticket_fee
`

// SaveFlight inserts or updates a single flight record
func (r *SQLiteRepository) SaveFlight(ctx context.Context, rec models.FlightRecord) error {
	if _, err := r.db.ExecContext(ctx, sqliteUpsertFlight, toFlightRow(rec).args()...); err != nil {
		return fmt.Errorf("save flight: %w", err)
	}
	return nil
}

// ReplaceFlights swaps the flight table content in one transaction
func (r *SQLiteRepository) ReplaceFlights(ctx context.Context, recs []models.FlightRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flights`); err != nil {
		return fmt.Errorf("clear flights: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, sqliteUpsertFlight)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, toFlightRow(rec).args()...); err != nil {
			return fmt.Errorf("insert flight: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListFlights lists all flights in local index order
func (r *SQLiteRepository) ListFlights(ctx context.Context) ([]models.FlightRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []models.FlightRecord
	for rows.Next() {
		var row flightRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveOracle inserts or updates an oracle identity
func (r *SQLiteRepository) SaveOracle(ctx context.Context, o models.OracleIdentity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oracles (address, index0, index1, index2)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			index0 = excluded.index0,
			index1 = excluded.index1,
			index2 = excluded.index2
	`, o.Address.Hex(), int64(o.Indexes[0]), int64(o.Indexes[1]), int64(o.Indexes[2]))
	if err != nil {
		return fmt.Errorf("save oracle: %w", err)
	}
	return nil
}

// ListOracles lists all oracles ordered by address
func (r *SQLiteRepository) ListOracles(ctx context.Context) ([]models.OracleIdentity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT address, index0, index1, index2 FROM oracles ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("list oracles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var res []models.OracleIdentity
	for rows.Next() {
		var (
			addr       string
			i0, i1, i2 int64
		)
		if err := rows.Scan(&addr, &i0, &i1, &i2); err != nil {
			return nil, fmt.Errorf("scan oracle: %w", err)
		}
		res = append(res, models.OracleIdentity{
			Address: common.HexToAddress(addr),
			Indexes: models.Indexes{uint8(i0), uint8(i1), uint8(i2)},
		})
	}
	return res, rows.Err()
}

// Ping checks the database connection
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
