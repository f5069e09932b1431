package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/drover-ai/drover/internal/printer"
	"github.com/spf13/cobra"
)

var (
	listJSON  bool
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ready work items awaiting claim",
	Long: `List the ready work items on the board, grouped in claim order:
highest priority first, ties broken by age. One queue exists per item type;
every type named in the pipeline's routing table is shown.

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum items per type")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, client, err := loadConfigAndClient()
	if err != nil {
		return printer.Errorf("failed to initialize: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Collect every routed item type from the config.
	var itemTypes []string
	for _, agentCfg := range cfg.Agents {
		itemTypes = append(itemTypes, agentCfg.ItemTypes...)
	}

	items, err := client.MergeReady(ctx, itemTypes, listLimit)
	if err != nil {
		return printer.Errorf("failed to list ready items: %v", err)
	}

	if listJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	if len(items) == 0 {
		printer.Info("no ready work items")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %-8s  %-10s  %s\n", "ID", "TYPE", "PRIORITY", "AGE", "TITLE")
	for _, item := range items {
		fmt.Printf("%-36s  %-12s  %-8s  %-10s  %s\n",
			item.ID, item.Type, item.Priority, ageOf(item.CreatedAtMs), item.Title)
	}
	printer.Info("\n%d ready item(s)", len(items))

	return nil
}

// ageOf formats how long ago a millisecond timestamp was.
func ageOf(ms int64) string {
	return time.Since(time.UnixMilli(ms)).Round(time.Second).String()
}
