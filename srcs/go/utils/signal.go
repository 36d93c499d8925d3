package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lsds/hcomm/srcs/go/log"
)

// Trap cancels the returned context on the first SIGINT or SIGTERM.
func Trap(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.Warnf("got %s, cancelling", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
