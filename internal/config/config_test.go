package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *PipelineConfig {
	return &PipelineConfig{
		Version:  "1.0",
		Pipeline: "demo",
		Agents: map[string]Agent{
			"project_manager": {},
			"scrum_master":    {},
			"developer":       {},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts minimal standard config", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("standard agents inherit built-in routing", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())

		assert.Equal(t, []string{"project_spec", "feature"}, cfg.Agents["project_manager"].ItemTypes)
		assert.Equal(t, []string{"prd"}, cfg.Agents["scrum_master"].ItemTypes)
		assert.Equal(t, []string{"story", "bug", "task"}, cfg.Agents["developer"].ItemTypes)
	})

	t.Run("applies agent defaults in place", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())

		dev := cfg.Agents["developer"]
		assert.Equal(t, "developer", dev.DisplayName)
		assert.Equal(t, 5000, dev.PollIntervalMs)
		assert.Equal(t, 1, dev.MaxConcurrent)
		assert.Equal(t, 10, dev.ClaimBudget)
		assert.Equal(t, 1, dev.ClaimWindowMins)
		assert.Equal(t, 30, dev.HeartbeatSecs)
		assert.Equal(t, 3, dev.MaxClaimAttempts)
		assert.Equal(t, 5, dev.CandidateFetch)
	})

	t.Run("rejects unsupported version", func(t *testing.T) {
		cfg := validConfig()
		cfg.Version = "2.0"
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported version")
	})

	t.Run("requires pipeline name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pipeline = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("requires at least one agent", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents = nil
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no agents defined")
	})

	t.Run("non-standard agents must declare item types", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents["reviewer"] = Agent{}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "item_types is required")
	})

	t.Run("rejects an item type routed to two agents", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents["reviewer"] = Agent{ItemTypes: []string{"story"}}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one agent")
	})

	t.Run("rejects empty item type entries", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents["reviewer"] = Agent{ItemTypes: []string{""}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative poll interval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents["developer"] = Agent{PollIntervalMs: -1}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative claim budget", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents["developer"] = Agent{ClaimBudget: -5}
		assert.Error(t, cfg.Validate())
	})

	t.Run("generator requires endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Generator = &GeneratorConfig{}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "generator.endpoint")
	})

	t.Run("generator timeout defaults to 60", func(t *testing.T) {
		cfg := validConfig()
		cfg.Generator = &GeneratorConfig{Endpoint: "http://localhost:8080/generate"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 60, cfg.Generator.TimeoutSecs)
	})
}

func TestLoad(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "pipeline.yml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("loads a full config", func(t *testing.T) {
		path := writeConfig(t, `
version: "1.0"
pipeline: "acme"
redis_url: "redis://localhost:6379/0"
generator:
  endpoint: "http://localhost:8080/generate"
  api_key_env: "GENERATOR_API_KEY"
agents:
  project_manager:
    display_name: "Project Manager"
  scrum_master: {}
  developer:
    poll_interval_ms: 2000
    claim_budget: 20
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "acme", cfg.Pipeline)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
		assert.Equal(t, "Project Manager", cfg.Agents["project_manager"].DisplayName)
		assert.Equal(t, 2000, cfg.Agents["developer"].PollIntervalMs)
		assert.Equal(t, 20, cfg.Agents["developer"].ClaimBudget)
		assert.Equal(t, "GENERATOR_API_KEY", cfg.Generator.APIKeyEnv)
	})

	t.Run("rejects invalid YAML", func(t *testing.T) {
		path := writeConfig(t, "version: [unclosed")
		_, err := Load(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse YAML")
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		path := writeConfig(t, `
version: "1.0"
pipeline: ""
agents:
  developer: {}
`)
		_, err := Load(path)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}
