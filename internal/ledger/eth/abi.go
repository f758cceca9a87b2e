package eth

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/app.json
	appABIJSON string
	//go:embed abi/data.json
	dataABIJSON string

	appABI  = mustParseABI("app", appABIJSON)
	dataABI = mustParseABI("data", dataABIJSON)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid %s contract ABI: %v", name, err))
	}
	return parsed
}

// Contract methods
const (
	methodRegistrationFee = "REGISTRATION_FEE"
	methodRegisterOracle  = "registerOracle"
	methodGetMyIndexes    = "getMyIndexes"
	methodSubmitResponse  = "submitOracleResponse"
	methodTotalFlightKeys = "totalFlightKeys"
	methodFlightKeys      = "flightKeys"
	methodGetFlightKey    = "getFlightKey"
	methodFlights         = "flights"
)

func toUint64(v *big.Int, field string) (uint64, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%s %v does not fit uint64", field, v)
	}
	return v.Uint64(), nil
}

// value asserts the i-th unpacked value to T
func value[T any](vals []any, i int, field string) (T, error) {
	var zero T
	if i >= len(vals) {
		return zero, fmt.Errorf("missing %s (have %d values)", field, len(vals))
	}
	v, ok := vals[i].(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type %T for %s", vals[i], field)
	}
	return v, nil
}
