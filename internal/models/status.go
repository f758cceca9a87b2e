package models

import (
	"fmt"
	"strings"
)

// StatusCode is the flight status reported by oracles, in the ledger's encoding
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// ReportableStatuses lists the codes an oracle may answer with
var ReportableStatuses = []StatusCode{
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

var statusNames = map[StatusCode]string{
	StatusUnknown:       "UNKNOWN",
	StatusOnTime:        "ON_TIME",
	StatusLateAirline:   "LATE_AIRLINE",
	StatusLateWeather:   "LATE_WEATHER",
	StatusLateTechnical: "LATE_TECHNICAL",
	StatusLateOther:     "LATE_OTHER",
}

// String returns the stable name used in logs and metrics
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Valid reports whether s is one of the known codes
func (s StatusCode) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatusCode maps a status name back to its code.
// The "STATUS_CODE_" prefix used by the contracts is accepted as well.
func ParseStatusCode(name string) (StatusCode, error) {
	name = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "STATUS_CODE_")
	for code, n := range statusNames {
		if n == name {
			return code, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status code %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (s StatusCode) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
