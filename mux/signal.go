package mux

import (
	"os"
	"os/signal"
)

// signalIgnore suppresses delivery of sig process-wide.
func signalIgnore(sig os.Signal) {
	signal.Ignore(sig)
}
