package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/internal/printer"
	"github.com/drover-ai/drover/internal/stages"
	"github.com/spf13/cobra"
)

var runAgentType string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent process in the foreground",
	Long: `Run a single agent instance of the given type in the foreground.

The agent registers itself with the board, polls for claimable work of its
processable item types, processes claimed items through the configured
generator, and hands off children to the next stage. SIGINT/SIGTERM trigger
a graceful shutdown: the in-flight item finishes, a held-but-unprocessed
item is released, and the instance registration is deactivated.

Examples:
  # Run a developer agent against the configured pipeline
  drover run --agent developer

  # Run with an alternate config
  drover run --agent scrum_master --config ./pipeline.yml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAgentType, "agent", "", "Agent type to run (required)")
	runCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, client, err := loadConfigAndClient()
	if err != nil {
		return printer.Errorf("failed to initialize: %v", err)
	}
	defer client.Close()

	agentCfg, ok := cfg.Agents[runAgentType]
	if !ok {
		return printer.Errorf("agent type '%s' is not defined in %s", runAgentType, configPath)
	}

	if cfg.Generator == nil {
		return printer.Errorf("generator must be configured to run an agent")
	}

	processor, err := stages.New(runAgentType, generator.NewHTTPClient(cfg.Generator))
	if err != nil {
		return printer.Errorf("%v", err)
	}

	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		return printer.Errorf("Redis not accessible: %v", err)
	}

	runtime := agent.NewRuntime(client, runAgentType, agentCfg, processor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Warning("shutdown signal received, finishing in-flight work")
		runtime.Stop()
	}()

	printer.Step("agent '%s' polling as instance %s", runAgentType, runtime.InstanceID())

	if err := runtime.Run(ctx); err != nil {
		return printer.Errorf("agent failed: %v", err)
	}

	printer.Success("agent '%s' stopped cleanly", runAgentType)
	return nil
}
