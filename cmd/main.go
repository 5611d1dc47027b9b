package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes the command line and always releases the pipeline and
// flushes telemetry, whether or not the command succeeded
func run(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if terr := teardown(context.WithoutCancel(ctx)); terr != nil {
		log.Error().Err(terr).Msg("Shutdown failed")
		err = errors.Join(err, terr)
	}
	return err
}
