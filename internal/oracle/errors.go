package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotRegistered is returned for accounts without cached indexes
	ErrNotRegistered = errors.New("oracle not registered")
	// ErrAlreadyInitialized is returned by a second Initialize call
	ErrAlreadyInitialized = errors.New("oracle pool already initialized")
	// ErrPoolEmpty means no oracle at all could be registered
	ErrPoolEmpty = errors.New("no oracle could be registered")
)

// RegistrationFailed records why a single oracle could not join the pool
type RegistrationFailed struct {
	Oracle common.Address
	Cause  error
}

func (e *RegistrationFailed) Error() string {
	return fmt.Sprintf("register oracle %s: %v", e.Oracle.Hex(), e.Cause)
}

func (e *RegistrationFailed) Unwrap() error { return e.Cause }
