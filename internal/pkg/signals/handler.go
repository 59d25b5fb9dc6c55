// Package signals ties process signals to context cancellation so long
// running commands stop between packets.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/pktmunch/internal/pkg/constants"
	"github.com/endorses/pktmunch/internal/pkg/logger"
)

// Shutdown lists the signals that stop a run.
var Shutdown = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// SetupHandler cancels the context on SIGINT, SIGTERM or SIGHUP. The returned
// cleanup stops signal delivery and waits for the watcher to exit.
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	return SetupHandlerWithCallback(ctx, cancel)
}

// SetupHandlerWithCallback calls onSignal on the first shutdown signal
// instead of cancelling a context.
func SetupHandlerWithCallback(ctx context.Context, onSignal func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, Shutdown...)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, stopping", "signal", sig.String())
			onSignal()
		case <-ctx.Done():
		case <-stop:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(stop)
		<-done
	}
}

// WithShutdown derives a context that is cancelled on a shutdown signal. The
// returned cancel also releases the signal handler.
func WithShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	cleanup := SetupHandler(ctx, cancel)
	return ctx, func() {
		cancel()
		cleanup()
	}
}
