package eth

import (
	"math/big"
	"testing"

	"flightoracle/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	airline  = common.HexToAddress("0x00000000000000000000000000000000000a1a1a")
	customer = common.HexToAddress("0x00000000000000000000000000000000000c0c0c")
	txHash   = common.HexToHash("0x01")
)

func packLog(t *testing.T, src map[string]bool, name string, args ...any) types.Log {
	t.Helper()
	a := appABI
	if src["data"] {
		a = dataABI
	}
	ev, ok := a.Events[name]
	require.True(t, ok, name)
	data, err := ev.Inputs.Pack(args...)
	require.NoError(t, err)
	return types.Log{Topics: []common.Hash{ev.ID}, Data: data, BlockNumber: 7, TxHash: txHash}
}

var onData = map[string]bool{"data": true}

func TestDecodeLog(t *testing.T) {
	departure := big.NewInt(1_700_000_000)
	flight := models.FlightIdentity{Airline: airline, FlightCode: "LX14", Destination: "JFK", DepartureTime: departure.Uint64()}
	meta := models.Meta{Block: 7, TxHash: txHash}

	tests := []struct {
		name string
		log  types.Log
		want models.Event
	}{
		{
			name: "registeredOracles",
			log:  packLog(t, nil, "registeredOracles", [3]uint8{1, 4, 7}),
			want: models.OracleRegistered{Meta: meta, Indexes: models.Indexes{1, 4, 7}},
		},
		{
			name: "registeredFlight",
			log:  packLog(t, nil, "registeredFlight", airline, "LX14", "JFK", departure),
			want: models.FlightRegistered{Meta: meta, Flight: flight},
		},
		{
			name: "OracleRequest",
			log:  packLog(t, nil, "OracleRequest", uint8(4), airline, "LX14", departure),
			want: models.StatusRequested{Meta: meta, Request: models.StatusRequest{
				Index:  4,
				Flight: models.FlightIdentity{Airline: airline, FlightCode: "LX14", DepartureTime: departure.Uint64()},
			}},
		},
		{
			name: "OracleReport",
			log:  packLog(t, nil, "OracleReport", airline, "LX14", "JFK", departure, uint8(20)),
			want: models.StatusReported{Meta: meta, Flight: flight, Status: models.StatusLateAirline},
		},
		{
			name: "processedFlightStatus",
			log:  packLog(t, nil, "processedFlightStatus", "JFK", "LX14", departure, uint8(30)),
			want: models.StatusProcessed{Meta: meta, Flight: models.FlightIdentity{
				FlightCode: "LX14", Destination: "JFK", DepartureTime: departure.Uint64(),
			}, Status: models.StatusLateWeather},
		},
		{
			name: "FlightStatusInfo",
			log:  packLog(t, nil, "FlightStatusInfo", airline, "LX14", "JFK", departure, uint8(10)),
			want: models.LedgerActivity{Meta: meta, Name: models.ActivityFlightStatusInfo, Account: airline, Flight: flight, Status: models.StatusOnTime},
		},
		{
			name: "paidInsurance",
			log:  packLog(t, nil, "paidInsurance", customer),
			want: models.LedgerActivity{Meta: meta, Name: models.ActivityInsurancePaid, Account: customer},
		},
		{
			name: "newAirlineRegistered",
			log:  packLog(t, onData, "newAirlineRegistered", airline, customer),
			want: models.LedgerActivity{Meta: meta, Name: models.ActivityAirlineRegistered, Account: airline, Counterparty: customer},
		},
		{
			name: "receivedRegistrationFee",
			log:  packLog(t, onData, "receivedRegistrationFee", airline),
			want: models.LedgerActivity{Meta: meta, Name: models.ActivityFeeReceived, Account: airline},
		},
		{
			name: "creditInsurance",
			log:  packLog(t, onData, "creditInsurance", big.NewInt(1500), customer),
			want: models.LedgerActivity{Meta: meta, Name: models.ActivityInsuranceCredited, Account: customer, Amount: big.NewInt(1500)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeLog(tt.log)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLogErrors(t *testing.T) {
	_, err := decodeLog(types.Log{})
	require.ErrorIs(t, err, errUnknownEvent)

	_, err = decodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	require.ErrorIs(t, err, errUnknownEvent)

	l := packLog(t, nil, "registeredFlight", airline, "LX14", "JFK", big.NewInt(1))
	l.Data = l.Data[:32]
	_, err = decodeLog(l)
	require.Error(t, err)
}

func TestEveryKindHasEvents(t *testing.T) {
	for _, kind := range models.EventKinds {
		require.NotEmpty(t, eventsOf(kind), kind.String())
	}
	require.Len(t, eventsOf(models.KindLedgerActivity), 5)
}

func TestProjectFlight(t *testing.T) {
	fee := big.NewInt(250)
	vals := []any{
		true, uint8(10), big.NewInt(1_700_000_100), airline, "LX14", "ZRH", "JFK", big.NewInt(1_700_000_000), fee,
	}
	got, err := projectFlight(vals)
	require.NoError(t, err)
	require.Equal(t, models.FlightData{
		Registered:    true,
		Status:        models.StatusOnTime,
		UpdatedAt:     1_700_000_100,
		Airline:       airline,
		FlightCode:    "LX14",
		Origin:        "ZRH",
		Destination:   "JFK",
		DepartureTime: 1_700_000_000,
		TicketFee:     fee,
	}, got)

	// round trip through the ABI encoding
	method := dataABI.Methods[methodFlights]
	packed, err := method.Outputs.Pack(vals...)
	require.NoError(t, err)
	unpacked, err := method.Outputs.Unpack(packed)
	require.NoError(t, err)
	again, err := projectFlight(unpacked)
	require.NoError(t, err)
	require.True(t, got.Equal(again))

	_, err = projectFlight(vals[:8])
	require.Error(t, err)

	bad := append([]any(nil), vals...)
	bad[7] = new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = projectFlight(bad)
	require.Error(t, err)
}

func TestPackSubmitOracleResponse(t *testing.T) {
	input, err := appABI.Pack(methodSubmitResponse, uint8(4), airline, "LX14", big.NewInt(1_700_000_000), uint8(models.StatusLateOther))
	require.NoError(t, err)

	method := appABI.Methods[methodSubmitResponse]
	require.Equal(t, method.ID, input[:4])
	args, err := method.Inputs.Unpack(input[4:])
	require.NoError(t, err)
	require.Equal(t, uint8(4), args[0])
	require.Equal(t, airline, args[1])
	require.Equal(t, uint8(50), args[4])
}
