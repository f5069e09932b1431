package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drover-ai/drover/internal/printer"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream pipeline activity in real time",
	Long: `Subscribe to the board's event channels and stream work item creations
and activity log entries as they happen. Press Ctrl-C to stop.

Examples:
  # Watch everything on the configured pipeline
  drover watch`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	_, client, err := loadConfigAndClient()
	if err != nil {
		return printer.Errorf("failed to initialize: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	itemSub, err := client.SubscribeItemEvents(ctx)
	if err != nil {
		return printer.Errorf("failed to subscribe to item events: %v", err)
	}
	defer itemSub.Close()

	activitySub, err := client.SubscribeActivityEvents(ctx)
	if err != nil {
		return printer.Errorf("failed to subscribe to activity events: %v", err)
	}
	defer activitySub.Close()

	printer.Step("watching pipeline events (Ctrl-C to stop)")

	for {
		select {
		case <-ctx.Done():
			printer.Info("\nstopped watching")
			return nil

		case item, ok := <-itemSub.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s  item created  type=%s priority=%s id=%s %q\n",
				timestamp(), item.Type, item.Priority, item.ID, item.Title)

		case entry, ok := <-activitySub.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s  %-10s  agent=%s item=%s %s\n",
				timestamp(), entry.Action, entry.AgentType, entry.WorkItemID, entry.Details)

		case err, ok := <-itemSub.Errors():
			if ok {
				printer.Warning("item event error: %v", err)
			}

		case err, ok := <-activitySub.Errors():
			if ok {
				printer.Warning("activity event error: %v", err)
			}
		}
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
