// Package common carries the primitives shared by every native ledger
// module. Its main export is the pause guard: the host owns a switchboard of
// paused module names, and engines consult it before any mutating operation.
package common

import "errors"

// ErrModulePaused rejects a mutating operation while the operator has the
// module paused. Hosts surface it under a dedicated RPC error code so clients
// can tell an operational pause from a validation failure.
var ErrModulePaused = errors.New("farmnet: module paused")

// PauseView answers whether a named module is currently paused. The host owns
// the switchboard; engines only read it.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the view reports the module paused. A
// nil view or empty module name means pausing is not wired for this engine
// and the operation proceeds.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
