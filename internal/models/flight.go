package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FlightIdentity is the compound identity the ledger derives flight keys from
type FlightIdentity struct {
	Airline       common.Address `json:"airline"`
	FlightCode    string         `json:"flight_code"`
	Destination   string         `json:"destination,omitempty"` // not carried by every event
	DepartureTime uint64         `json:"departure_time"`
}

func (f FlightIdentity) String() string {
	return fmt.Sprintf("%s/%s@%d", f.Airline.Hex(), f.FlightCode, f.DepartureTime)
}

// StatusRequest asks every oracle holding Index to report on Flight
type StatusRequest struct {
	Index  uint8          `json:"index"`
	Flight FlightIdentity `json:"flight"`
}

// FlightData is the mirrored snapshot of a ledger flight.
// It may be stale between refreshes.
type FlightData struct {
	Registered    bool           `json:"registered"`
	Status        StatusCode     `json:"status"`
	UpdatedAt     uint64         `json:"updated_at"`
	Airline       common.Address `json:"airline"`
	FlightCode    string         `json:"flight_code"`
	Origin        string         `json:"origin"`
	Destination   string         `json:"destination"`
	DepartureTime uint64         `json:"departure_time"`
	TicketFee     *big.Int       `json:"ticket_fee,omitempty"`
}

// Equal compares two snapshots field by field
func (d FlightData) Equal(o FlightData) bool {
	if d.Registered != o.Registered || d.Status != o.Status || d.UpdatedAt != o.UpdatedAt ||
		d.Airline != o.Airline || d.FlightCode != o.FlightCode || d.Origin != o.Origin ||
		d.Destination != o.Destination || d.DepartureTime != o.DepartureTime {
		return false
	}
	switch {
	case d.TicketFee == nil && o.TicketFee == nil:
		return true
	case d.TicketFee == nil || o.TicketFee == nil:
		return false
	default:
		return d.TicketFee.Cmp(o.TicketFee) == 0
	}
}

// Identity returns the compound identity described by the snapshot
func (d FlightData) Identity() FlightIdentity {
	return FlightIdentity{
		Airline:       d.Airline,
		FlightCode:    d.FlightCode,
		Destination:   d.Destination,
		DepartureTime: d.DepartureTime,
	}
}

// FlightRecord is one entry of the local flight registry mirror.
// Index is local addressing only and is not ledger-authoritative.
type FlightRecord struct {
	Index     uint64      `json:"index"`
	FlightKey common.Hash `json:"flight_key"`
	Data      FlightData  `json:"flight"`
}
