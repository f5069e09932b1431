// Command agent is the Drover agent process entrypoint. It is configured
// entirely through the environment (suitable as a container entrypoint),
// registers itself with the board, and runs the poll-claim-process loop for
// one agent type until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/generator"
	"github.com/drover-ai/drover/internal/stages"
	"github.com/drover-ai/drover/pkg/board"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	agentType := os.Getenv("DROVER_AGENT_TYPE")
	configPath := os.Getenv("DROVER_CONFIG")
	if configPath == "" {
		configPath = "pipeline.yml"
	}

	if agentType == "" {
		fmt.Fprintf(os.Stderr, "Error: DROVER_AGENT_TYPE must be set\n")
		os.Exit(1)
	}

	// 2. Load pipeline configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	agentCfg, ok := cfg.Agents[agentType]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: agent type '%s' is not defined in %s\n", agentType, configPath)
		os.Exit(1)
	}

	// 3. Resolve Redis connection (env wins over config)
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.RedisURL
	}
	if redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: REDIS_URL must be set (env or redis_url in config)\n")
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	pipeline := os.Getenv("DROVER_PIPELINE")
	if pipeline == "" {
		pipeline = cfg.Pipeline
	}

	// 4. Create board client and verify connectivity
	client, err := board.NewClient(redisOpts, pipeline)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create board client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Wire the generator and stage processor
	if cfg.Generator == nil {
		fmt.Fprintf(os.Stderr, "Error: generator must be configured to run an agent\n")
		os.Exit(1)
	}

	processor, err := stages.New(agentType, generator.NewHTTPClient(cfg.Generator))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 6. Run until shutdown signal
	runtime := agent.NewRuntime(client, agentType, agentCfg, processor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("Received %s, shutting down gracefully\n", sig)
		runtime.Stop()
	}()

	fmt.Printf("Drover agent '%s' starting on pipeline '%s' (instance %s)\n",
		agentType, pipeline, runtime.InstanceID())

	if err := runtime.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
