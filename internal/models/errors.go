package models

import "errors"

// Sentinel errors for data-model validation failures. internal/coreerrors
// wraps these (and others) with a Kind so callers can classify failures
// without string matching.
var (
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrInvalidBar      = errors.New("invalid bar")
	ErrInvalidVolume   = errors.New("invalid volume")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidInterval = errors.New("invalid interval tag")
)
