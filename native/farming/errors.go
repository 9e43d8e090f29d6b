package farming

import "errors"

// Validation failures: the request is malformed or not permitted in the
// ledger's current state. Safe to surface to callers verbatim.
var (
	ErrFarmNotFound     = errors.New("farming: farm not found")
	ErrPositionNotFound = errors.New("farming: position not found")
	ErrFarmMismatch     = errors.New("farming: position does not belong to farm")
	ErrNotStarted       = errors.New("farming: farm has not started")
	ErrEnded            = errors.New("farming: farm has ended")
	ErrFeeGateClosed    = errors.New("farming: farm fee has not been paid")
	ErrFeeTooLow        = errors.New("farming: fee amount below creation fee")
	ErrNothingStaked    = errors.New("farming: nothing staked")
	ErrInvalidAmount    = errors.New("farming: invalid amount")
	ErrUnauthorized     = errors.New("farming: unauthorized")
	ErrTokenUnknown     = errors.New("farming: token not registered")
)

// Configuration failures reported when the injected parameters or a farm
// definition are unusable.
var (
	ErrInvalidWindow = errors.New("farming: farm window must end after it starts")
	ErrInvalidParams = errors.New("farming: invalid parameters")
)

// ErrArithmetic marks internal accounting inconsistencies: negative
// entitlements and values that no longer fit their persisted width. These are
// fatal for the operation and indicate corrupted state, never bad input.
var ErrArithmetic = errors.New("farming: arithmetic inconsistency")

var errNilState = errors.New("farming: state not configured")
