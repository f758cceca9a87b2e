// Package storage persists a projection of the flight registry mirror and the
// oracle pool for consumers outside the coordinator process. It is never
// authoritative: the mirror is always rebuilt from the ledger.
package storage

import (
	"context"
	"fmt"
	"math/big"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Repository defines the interface for all storage operations
type Repository interface {
	// Flights
	SaveFlight(ctx context.Context, rec models.FlightRecord) error
	// ReplaceFlights swaps the whole flight table for recs atomically
	ReplaceFlights(ctx context.Context, recs []models.FlightRecord) error
	ListFlights(ctx context.Context) ([]models.FlightRecord, error)

	// Oracles
	SaveOracle(ctx context.Context, o models.OracleIdentity) error
	ListOracles(ctx context.Context) ([]models.OracleIdentity, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// Supported drivers
const (
	DriverNone     = ""
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects the repository selected by driver.
// DriverNone returns a nil repository and no error.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	switch driver {
	case DriverNone:
		return nil, nil
	case DriverPostgres:
		return NewPostgresRepository(ctx, dsn)
	case DriverSQLite:
		return NewSQLiteRepository(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS flights (
	flight_key     TEXT PRIMARY KEY,
	idx            BIGINT NOT NULL,
	registered     BOOLEAN NOT NULL,
	status         SMALLINT NOT NULL,
	updated_at     BIGINT NOT NULL,
	airline        TEXT NOT NULL,
	flight_code    TEXT NOT NULL,
	origin         TEXT NOT NULL,
	destination    TEXT NOT NULL,
	departure_time BIGINT NOT NULL,
	ticket_fee     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS flights_idx ON flights (idx);
CREATE TABLE IF NOT EXISTS oracles (
	address TEXT PRIMARY KEY,
	index0  SMALLINT NOT NULL,
	index1  SMALLINT NOT NULL,
	index2  SMALLINT NOT NULL
);
`

// flightRow is the column layout shared by both drivers
type flightRow struct {
	FlightKey     string
	Index         int64
	Registered    bool
	Status        int16
	UpdatedAt     int64
	Airline       string
	FlightCode    string
	Origin        string
	Destination   string
	DepartureTime int64
	TicketFee     string
}

func toFlightRow(rec models.FlightRecord) flightRow {
	fee := "0"
	if rec.Data.TicketFee != nil {
		fee = rec.Data.TicketFee.String()
	}
	return flightRow{
		FlightKey:     rec.FlightKey.Hex(),
		Index:         int64(rec.Index),
		Registered:    rec.Data.Registered,
		Status:        int16(rec.Data.Status),
		UpdatedAt:     int64(rec.Data.UpdatedAt),
		Airline:       rec.Data.Airline.Hex(),
		FlightCode:    rec.Data.FlightCode,
		Origin:        rec.Data.Origin,
		Destination:   rec.Data.Destination,
		DepartureTime: int64(rec.Data.DepartureTime),
		TicketFee:     fee,
	}
}

func (r flightRow) args() []any {
	return []any{
		r.FlightKey, r.Index, r.Registered, r.Status, r.UpdatedAt, r.Airline,
		r.FlightCode, r.Origin, r.Destination, r.DepartureTime, r.TicketFee,
	}
}

func (r *flightRow) dest() []any {
	return []any{
		&r.FlightKey, &r.Index, &r.Registered, &r.Status, &r.UpdatedAt, &r.Airline,
		&r.FlightCode, &r.Origin, &r.Destination, &r.DepartureTime, &r.TicketFee,
	}
}

func (r flightRow) record() (models.FlightRecord, error) {
	fee, ok := new(big.Int).SetString(r.TicketFee, 10)
	if !ok {
		return models.FlightRecord{}, fmt.Errorf("invalid ticket fee %q for flight %s", r.TicketFee, r.FlightKey)
	}
	return models.FlightRecord{
		Index:     uint64(r.Index),
		FlightKey: common.HexToHash(r.FlightKey),
		Data: models.FlightData{
			Registered:    r.Registered,
			Status:        models.StatusCode(r.Status),
			UpdatedAt:     uint64(r.UpdatedAt),
			Airline:       common.HexToAddress(r.Airline),
			FlightCode:    r.FlightCode,
			Origin:        r.Origin,
			Destination:   r.Destination,
			DepartureTime: uint64(r.DepartureTime),
			TicketFee:     fee,
		},
	}, nil
}

const flightColumns = `flight_key, idx, registered, status, updated_at, airline,
	flight_code, origin, destination, departure_time, ticket_fee`
