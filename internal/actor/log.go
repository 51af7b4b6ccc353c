package actor

import (
	"github.com/btcsuite/btclog"
	logpkg "github.com/coralsys/meshactor/internal/log"
)

// log is the package-level logger used throughout the actor lifecycle
// (registration, mailbox send/receive, shutdown). It is a no-op until
// UseLogger is called.
var log = logpkg.Disabled

// UseLogger wires up the actor package's logger. Call this once at startup
// before constructing an ActorSystem.
func UseLogger(logger btclog.Logger) {
	log = logpkg.NewSubLogger(logger)
}
