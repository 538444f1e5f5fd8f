package database

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithShutdownSignals returns a copy of parent that is cancelled on SIGTERM or
// SIGINT. onSignal, when non-nil, is called with the received signal before
// cancellation. Calling the returned function releases the signal handler.
func WithShutdownSignals(parent context.Context, onSignal func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigChan:
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
