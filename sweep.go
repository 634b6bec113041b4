package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"order-processor/events"
	"order-processor/sweeper"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single expiration sweep and exit",
		RunE:  runSweep,
	}
	cmd.Flags().Bool("local", false, "Handle the emitted events in-process instead of publishing to Kafka")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var pub events.Publisher
	if local, _ := cmd.Flags().GetBool("local"); local {
		pub = a.localBus()
	} else if pub, err = a.newPublisher(); err != nil {
		return err
	}

	result, err := sweeper.New(a.store, pub, a.cfg.OrderExpiration, a.logger).SweepOnce(ctx)
	a.logger.Info("Sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("expired", result.Expired),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d skipped=%d failed=%d\n",
		result.Scanned, result.Expired, result.Skipped, result.Failed)
	return err
}
