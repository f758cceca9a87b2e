package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies a ledger event category.
// The coordinator keeps one inbound queue per kind.
type EventKind uint8

const (
	KindOracleRegistered EventKind = iota
	KindFlightRegistered
	KindStatusRequested
	KindStatusReported
	KindStatusProcessed
	KindLedgerActivity
)

// EventKinds lists every subscribable category
var EventKinds = []EventKind{
	KindOracleRegistered,
	KindFlightRegistered,
	KindStatusRequested,
	KindStatusReported,
	KindStatusProcessed,
	KindLedgerActivity,
}

var kindNames = [...]string{
	KindOracleRegistered: "oracle_registered",
	KindFlightRegistered: "flight_registered",
	KindStatusRequested:  "status_requested",
	KindStatusReported:   "status_reported",
	KindStatusProcessed:  "status_processed",
	KindLedgerActivity:   "ledger_activity",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is a decoded ledger event
type Event interface {
	Kind() EventKind
	Metadata() Meta
}

// Meta locates an event on the ledger
type Meta struct {
	Block  uint64      `json:"block"`
	TxHash common.Hash `json:"tx_hash"`
}

// Metadata implements Event
func (m Meta) Metadata() Meta { return m }

// OracleRegistered confirms that the ledger assigned an index set
type OracleRegistered struct {
	Meta
	Indexes Indexes `json:"indexes"`
}

// FlightRegistered announces a new flight on the ledger
type FlightRegistered struct {
	Meta
	Flight FlightIdentity `json:"flight"`
}

// StatusRequested asks oracles with a matching index to respond
type StatusRequested struct {
	Meta
	Request StatusRequest `json:"request"`
}

// StatusReported is a single oracle report accepted by the ledger
type StatusReported struct {
	Meta
	Flight FlightIdentity `json:"flight"`
	Status StatusCode     `json:"status"`
}

// StatusProcessed is the ledger-side consensus outcome for a flight
type StatusProcessed struct {
	Meta
	Flight FlightIdentity `json:"flight"`
	Status StatusCode     `json:"status"`
}

// Ledger activity names
const (
	ActivityAirlineRegistered = "newAirlineRegistered"
	ActivityFeeReceived       = "receivedRegistrationFee"
	ActivityInsurancePaid     = "paidInsurance"
	ActivityInsuranceCredited = "creditInsurance"
	ActivityFlightStatusInfo  = "FlightStatusInfo"
)

// LedgerActivity covers funding and insurance events.
// They are not acted upon, only observed.
type LedgerActivity struct {
	Meta
	Name         string         `json:"name"`
	Account      common.Address `json:"account"`
	Counterparty common.Address `json:"counterparty,omitempty"`
	Amount       *big.Int       `json:"amount,omitempty"`
	Flight       FlightIdentity `json:"flight,omitempty"`
	Status       StatusCode     `json:"status,omitempty"`
}

func (OracleRegistered) Kind() EventKind { return KindOracleRegistered }
func (FlightRegistered) Kind() EventKind { return KindFlightRegistered }
func (StatusRequested) Kind() EventKind  { return KindStatusRequested }
func (StatusReported) Kind() EventKind   { return KindStatusReported }
func (StatusProcessed) Kind() EventKind  { return KindStatusProcessed }
func (LedgerActivity) Kind() EventKind   { return KindLedgerActivity }
