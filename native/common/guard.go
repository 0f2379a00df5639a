package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("module paused")

// Module names understood by Guard and the pause configuration.
const (
	ModuleRegistry  = "registry"
	ModuleDataStore = "datastore"
	ModuleDispute   = "dispute"
	ModulePayout    = "payout"
)

// Modules lists every pausable module.
var Modules = []string{ModuleRegistry, ModuleDataStore, ModuleDispute, ModulePayout}

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutations of a paused module.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// KnownModule reports whether name is a pausable module.
func KnownModule(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}
