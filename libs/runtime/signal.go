package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext is the root context for a service process; it cancels on
// SIGINT or SIGTERM to start graceful shutdown.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

