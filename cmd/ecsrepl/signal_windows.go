//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals routes interrupts to ch so the REPL can stop cleanly.
// Windows has no SIGTERM, so only Ctrl+C is routed.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
