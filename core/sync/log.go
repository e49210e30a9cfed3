package sync

import (
	"github.com/btcsuite/btclog"

	"github.com/paychan/channelcore/channelcorelog"
)

var log btclog.Logger = channelcorelog.AddSubsystem("SYNC", UseLogger)

// UseLogger sets the package-level logger used by sync, mirroring
// lnd's per-package UseLogger convention. channelcorelog.InitBackend
// calls this automatically whenever the backend is reconfigured, so
// re-leveling reaches this package's already-bound log variable.
func UseLogger(l btclog.Logger) {
	log = l
}
