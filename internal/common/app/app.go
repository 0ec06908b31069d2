package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal exits immediately, for drivers stuck waiting on in-flight events.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Infof("Received %s, leaving the run", sig)
		cancel()
		sig = <-signals
		log.Warnf("Received %s again, exiting without waiting for in-flight events", sig)
		os.Exit(1)
	}()
	return ctx
}
