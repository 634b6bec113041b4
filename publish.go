package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"order-processor/events"
	"order-processor/models"
)

func publishCreatedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish-created",
		Short: "Publish OrderCreated for a pending order",
		Long: `Publish OrderCreated for an order that is still pending.

This is the call the order API makes after committing a new order row. With
--local the event is handled in this process, including the payment delay.`,
		RunE: runPublishCreated,
	}
	cmd.Flags().Int("order-id", 0, "Order to announce")
	cmd.Flags().Bool("local", false, "Handle the event in-process instead of publishing to Kafka")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func runPublishCreated(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orderID, _ := cmd.Flags().GetInt("order-id")

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	order, err := a.store.FindOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if order.Status != models.OrderStatusPending {
		return fmt.Errorf("order %d is %s, only pending orders can be announced", orderID, order.Status)
	}

	var pub events.Publisher
	if local, _ := cmd.Flags().GetBool("local"); local {
		pub = a.localBus()
	} else if pub, err = a.newPublisher(); err != nil {
		return err
	}

	event := events.OrderCreated{OrderID: order.ID, UserID: order.UserID, Total: order.Total}
	if err := pub.Publish(ctx, event); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published %s for order %d\n", event.EventType(), order.ID)
	return nil
}
