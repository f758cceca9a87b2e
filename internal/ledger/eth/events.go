package eth

import (
	"errors"
	"fmt"
	"math/big"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errUnknownEvent = errors.New("unknown event")

type decodeFunc func(meta models.Meta, vals []any) (models.Event, error)

type eventDef struct {
	kind   models.EventKind
	onData bool // emitted by the data contract
	ev     abi.Event
	decode decodeFunc
}

// eventsByID indexes every subscribed contract event by its topic
var eventsByID = buildEvents()

func buildEvents() map[common.Hash]eventDef {
	defs := []struct {
		kind   models.EventKind
		onData bool
		name   string
		decode decodeFunc
	}{
		{models.KindOracleRegistered, false, "registeredOracles", decodeOracleRegistered},
		{models.KindFlightRegistered, false, "registeredFlight", decodeFlightRegistered},
		{models.KindStatusRequested, false, "OracleRequest", decodeStatusRequested},
		{models.KindStatusReported, false, "OracleReport", decodeStatusReported},
		{models.KindStatusProcessed, false, "processedFlightStatus", decodeStatusProcessed},
		{models.KindLedgerActivity, false, models.ActivityFlightStatusInfo, decodeFlightStatusInfo},
		{models.KindLedgerActivity, false, models.ActivityInsurancePaid, decodeInsurancePaid},
		{models.KindLedgerActivity, true, models.ActivityAirlineRegistered, decodeAirlineRegistered},
		{models.KindLedgerActivity, true, models.ActivityFeeReceived, decodeFeeReceived},
		{models.KindLedgerActivity, true, models.ActivityInsuranceCredited, decodeInsuranceCredited},
	}

	res := make(map[common.Hash]eventDef, len(defs))
	for _, d := range defs {
		src := appABI
		if d.onData {
			src = dataABI
		}
		ev, ok := src.Events[d.name]
		if !ok {
			panic("event " + d.name + " missing from contract ABI")
		}
		res[ev.ID] = eventDef{kind: d.kind, onData: d.onData, ev: ev, decode: d.decode}
	}
	return res
}

// eventsOf returns the definitions subscribed for kind
func eventsOf(kind models.EventKind) []eventDef {
	var res []eventDef
	for _, d := range eventsByID {
		if d.kind == kind {
			res = append(res, d)
		}
	}
	return res
}

// decodeLog turns a raw contract log into a models event
func decodeLog(l types.Log) (models.Event, error) {
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log", errUnknownEvent)
	}
	def, ok := eventsByID[l.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", errUnknownEvent, l.Topics[0].Hex())
	}
	vals, err := def.ev.Inputs.Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", def.ev.Name, err)
	}
	ev, err := def.decode(models.Meta{Block: l.BlockNumber, TxHash: l.TxHash}, vals)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", def.ev.Name, err)
	}
	return ev, nil
}

func decodeOracleRegistered(meta models.Meta, vals []any) (models.Event, error) {
	ix, err := value[[3]uint8](vals, 0, "indexes")
	if err != nil {
		return nil, err
	}
	return models.OracleRegistered{Meta: meta, Indexes: models.Indexes(ix)}, nil
}

func decodeFlightRegistered(meta models.Meta, vals []any) (models.Event, error) {
	f, err := flightIdentity(vals, 0, 1, 2, 3)
	if err != nil {
		return nil, err
	}
	return models.FlightRegistered{Meta: meta, Flight: f}, nil
}

func decodeStatusRequested(meta models.Meta, vals []any) (models.Event, error) {
	index, err := value[uint8](vals, 0, "index")
	if err != nil {
		return nil, err
	}
	f, err := flightIdentity(vals, 1, 2, -1, 3)
	if err != nil {
		return nil, err
	}
	return models.StatusRequested{Meta: meta, Request: models.StatusRequest{Index: index, Flight: f}}, nil
}

func decodeStatusReported(meta models.Meta, vals []any) (models.Event, error) {
	f, status, err := flightStatus(vals)
	if err != nil {
		return nil, err
	}
	return models.StatusReported{Meta: meta, Flight: f, Status: status}, nil
}

func decodeFlightStatusInfo(meta models.Meta, vals []any) (models.Event, error) {
	f, status, err := flightStatus(vals)
	if err != nil {
		return nil, err
	}
	return models.LedgerActivity{
		Meta:    meta,
		Name:    models.ActivityFlightStatusInfo,
		Account: f.Airline,
		Flight:  f,
		Status:  status,
	}, nil
}

// processedFlightStatus carries no airline
func decodeStatusProcessed(meta models.Meta, vals []any) (models.Event, error) {
	f, err := flightIdentity(vals, -1, 1, 0, 2)
	if err != nil {
		return nil, err
	}
	status, err := value[uint8](vals, 3, "statusCode")
	if err != nil {
		return nil, err
	}
	return models.StatusProcessed{Meta: meta, Flight: f, Status: models.StatusCode(status)}, nil
}

func decodeInsurancePaid(meta models.Meta, vals []any) (models.Event, error) {
	customer, err := value[common.Address](vals, 0, "customer")
	if err != nil {
		return nil, err
	}
	return models.LedgerActivity{Meta: meta, Name: models.ActivityInsurancePaid, Account: customer}, nil
}

func decodeAirlineRegistered(meta models.Meta, vals []any) (models.Event, error) {
	airline, err := value[common.Address](vals, 0, "newAirline")
	if err != nil {
		return nil, err
	}
	referral, err := value[common.Address](vals, 1, "airlineReferral")
	if err != nil {
		return nil, err
	}
	return models.LedgerActivity{
		Meta:         meta,
		Name:         models.ActivityAirlineRegistered,
		Account:      airline,
		Counterparty: referral,
	}, nil
}

func decodeFeeReceived(meta models.Meta, vals []any) (models.Event, error) {
	fund, err := value[common.Address](vals, 0, "fundAddress")
	if err != nil {
		return nil, err
	}
	return models.LedgerActivity{Meta: meta, Name: models.ActivityFeeReceived, Account: fund}, nil
}

func decodeInsuranceCredited(meta models.Meta, vals []any) (models.Event, error) {
	payment, err := value[*big.Int](vals, 0, "payment")
	if err != nil {
		return nil, err
	}
	customer, err := value[common.Address](vals, 1, "customer")
	if err != nil {
		return nil, err
	}
	return models.LedgerActivity{
		Meta:    meta,
		Name:    models.ActivityInsuranceCredited,
		Account: customer,
		Amount:  payment,
	}, nil
}

// flightIdentity reads the identity from the given value positions,
// a negative position leaves that field empty
func flightIdentity(vals []any, airline, code, dest, departure int) (models.FlightIdentity, error) {
	var (
		f   models.FlightIdentity
		err error
	)
	if airline >= 0 {
		if f.Airline, err = value[common.Address](vals, airline, "airline"); err != nil {
			return f, err
		}
	}
	if f.FlightCode, err = value[string](vals, code, "flightCode"); err != nil {
		return f, err
	}
	if dest >= 0 {
		if f.Destination, err = value[string](vals, dest, "destination"); err != nil {
			return f, err
		}
	}
	dep, err := value[*big.Int](vals, departure, "departureTime")
	if err != nil {
		return f, err
	}
	f.DepartureTime, err = toUint64(dep, "departureTime")
	return f, err
}

// flightStatus decodes the (airline, flightCode, destination, departureTime, statusCode) layout
func flightStatus(vals []any) (models.FlightIdentity, models.StatusCode, error) {
	f, err := flightIdentity(vals, 0, 1, 2, 3)
	if err != nil {
		return f, 0, err
	}
	status, err := value[uint8](vals, 4, "statusCode")
	if err != nil {
		return f, 0, err
	}
	return f, models.StatusCode(status), nil
}

// projectFlight maps the flights(bytes32) tuple onto FlightData field by field
func projectFlight(vals []any) (models.FlightData, error) {
	var (
		d   models.FlightData
		err error
	)
	if d.Registered, err = value[bool](vals, 0, "isRegistered"); err != nil {
		return d, err
	}
	status, err := value[uint8](vals, 1, "statusCode")
	if err != nil {
		return d, err
	}
	d.Status = models.StatusCode(status)

	updated, err := value[*big.Int](vals, 2, "updatedTimestamp")
	if err != nil {
		return d, err
	}
	if d.UpdatedAt, err = toUint64(updated, "updatedTimestamp"); err != nil {
		return d, err
	}
	if d.Airline, err = value[common.Address](vals, 3, "airline"); err != nil {
		return d, err
	}
	if d.FlightCode, err = value[string](vals, 4, "flightCode"); err != nil {
		return d, err
	}
	if d.Origin, err = value[string](vals, 5, "origin"); err != nil {
		return d, err
	}
	if d.Destination, err = value[string](vals, 6, "destination"); err != nil {
		return d, err
	}
	departure, err := value[*big.Int](vals, 7, "departureTime")
	if err != nil {
		return d, err
	}
	if d.DepartureTime, err = toUint64(departure, "departureTime"); err != nil {
		return d, err
	}
	if d.TicketFee, err = value[*big.Int](vals, 8, "ticketFee"); err != nil {
		return d, err
	}
	return d, nil
}
