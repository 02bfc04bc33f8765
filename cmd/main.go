package main

import (
	"os"
	"os/signal"
	"syscall"

	"tokenmeter/internal/bootstrap"
)

func main() {
	container := bootstrap.NewContainer()
	container.MustInit()

	if err := container.Start(); err != nil {
		container.Log.Fatalf("failed to start: %v", err)
	}

	waitForShutdown(container)
	container.Shutdown()
}

// waitForShutdown blocks until a shutdown signal arrives or a component
// cancels the application context
func waitForShutdown(c *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Application context cancelled")
	}
}
