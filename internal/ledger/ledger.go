// Package ledger describes the external ledger the coordinator talks to:
// event subscriptions, state-reading calls and state-mutating transactions.
package ledger

import (
	"context"
	"math/big"

	"flightoracle/internal/models"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// EventSource delivers decoded ledger events of one category to sink.
// Delivery is ordered within a category only.
type EventSource interface {
	Subscribe(ctx context.Context, kind models.EventKind, sink chan<- models.Event) (ethereum.Subscription, error)
}

// Registrar is the part of the ledger used to register oracles
type Registrar interface {
	// Accounts returns the locally available (unlocked) accounts
	Accounts(ctx context.Context) ([]common.Address, error)
	RegistrationFee(ctx context.Context) (*big.Int, error)
	RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) error
	// OracleIndexes returns the indexes the ledger assigned to oracle
	OracleIndexes(ctx context.Context, oracle common.Address) (models.Indexes, error)
}

// FlightReader exposes the ledger's authoritative flight-key sequence
type FlightReader interface {
	TotalFlightKeys(ctx context.Context) (uint64, error)
	FlightKeyAt(ctx context.Context, position uint64) (common.Hash, error)
	FlightKey(ctx context.Context, flight models.FlightIdentity) (common.Hash, error)
	Flight(ctx context.Context, key common.Hash) (models.FlightData, error)
}

// Submitter sends oracle responses
type Submitter interface {
	SubmitOracleResponse(ctx context.Context, from common.Address, resp models.OracleResponse) error
}

// Ledger is everything the coordinator consumes
type Ledger interface {
	EventSource
	Registrar
	FlightReader
	Submitter
}
