// Package channelcorelog provides the subsystem logger registry shared by
// every package under core/ and store/boltstore. Each package keeps its
// own package-scoped `log` variable and its own `UseLogger` setter, and
// registers both here under a short subsystem tag, the same UseLogger
// convention lnd uses for its per-package loggers (e.g.
// lnwallet.UseLogger, htlcswitch.UseLogger): InitBackend can then push a
// freshly-leveled logger all the way into the already-bound package
// variable, not just into this package's own bookkeeping.
package channelcorelog

import (
	"io"

	"github.com/btcsuite/btclog"
)

// subsystem pairs a tag's current logger with the setter that installs a
// replacement into the owning package's `log` variable.
type subsystem struct {
	logger btclog.Logger
	setter func(btclog.Logger)
}

// subsystems maps a short tag to its registered subsystem. Packages call
// AddSubsystem once at init time to obtain their initial logger.
var subsystems = make(map[string]*subsystem)

// backend is the shared logging backend every subsystem logger is created
// from. It defaults to a backend that discards everything; callers wire a
// real backend via InitBackend before starting the engine.
var backend = btclog.NewBackend(io.Discard)

// AddSubsystem registers tag with the setter that assigns a package's
// package-level `log` variable (normally that package's own UseLogger
// function) and returns the logger to use as that variable's initial
// value.
func AddSubsystem(tag string, setter func(btclog.Logger)) btclog.Logger {
	if existing, ok := subsystems[tag]; ok {
		return existing.logger
	}

	logger := backend.Logger(tag)
	subsystems[tag] = &subsystem{logger: logger, setter: setter}
	return logger
}

// InitBackend replaces the shared backend and re-levels every previously
// registered subsystem, calling each one's setter so the new logger
// actually reaches the owning package's `log` variable rather than only
// this package's own map, exactly like lnd's useLogger / InitLogRotator
// pair re-homing every package's logger on reconfiguration.
func InitBackend(b *btclog.Backend, level btclog.Level) {
	backend = b
	for tag, s := range subsystems {
		l := backend.Logger(tag)
		l.SetLevel(level)
		s.logger = l
		if s.setter != nil {
			s.setter(l)
		}
	}
}

// SetLevel adjusts the verbosity of a single already-registered subsystem.
func SetLevel(tag string, level btclog.Level) {
	if s, ok := subsystems[tag]; ok {
		s.logger.SetLevel(level)
	}
}
