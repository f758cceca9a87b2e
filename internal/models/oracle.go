package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// IndexCount is the number of indexes the ledger assigns to every oracle
const IndexCount = 3

// Indexes is the ledger-assigned index set of an oracle
type Indexes [IndexCount]uint8

// Contains reports whether the request index i belongs to the set
func (ix Indexes) Contains(i uint8) bool {
	for _, v := range ix {
		if v == i {
			return true
		}
	}
	return false
}

func (ix Indexes) String() string {
	return fmt.Sprintf("[%d %d %d]", ix[0], ix[1], ix[2])
}

// OracleIdentity is a registered oracle account and its cached indexes
type OracleIdentity struct {
	Address common.Address `json:"address"`
	Indexes Indexes        `json:"indexes"`
}

// OracleResponse is the payload of a submitOracleResponse transaction
type OracleResponse struct {
	Index  uint8          `json:"index"`
	Flight FlightIdentity `json:"flight"`
	Status StatusCode     `json:"status"`
}
