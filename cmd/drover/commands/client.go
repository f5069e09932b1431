package commands

import (
	"fmt"
	"os"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/pkg/board"
	"github.com/redis/go-redis/v9"
)

// loadConfigAndClient loads the pipeline config and opens a board client for
// it. REDIS_URL and DROVER_PIPELINE in the environment override the config
// file, matching the agent process bootstrap.
func loadConfigAndClient() (*config.PipelineConfig, *board.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = cfg.RedisURL
	}
	if redisURL == "" {
		return nil, nil, fmt.Errorf("REDIS_URL must be set (env or redis_url in config)")
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	pipeline := os.Getenv("DROVER_PIPELINE")
	if pipeline == "" {
		pipeline = cfg.Pipeline
	}

	client, err := board.NewClient(redisOpts, pipeline)
	if err != nil {
		return nil, nil, err
	}

	return cfg, client, nil
}
