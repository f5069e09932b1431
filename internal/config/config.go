package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig represents the top-level pipeline.yml configuration.
// The agent map doubles as the stage routing table: an item type is claimable
// only by the agent whose item_types list contains it, and that mapping is
// fixed once the config is loaded.
type PipelineConfig struct {
	Version   string           `yaml:"version"`
	Pipeline  string           `yaml:"pipeline"`
	RedisURL  string           `yaml:"redis_url,omitempty"` // Overridable via REDIS_URL
	Generator *GeneratorConfig `yaml:"generator,omitempty"`
	Agents    map[string]Agent `yaml:"agents"`
}

// Agent represents the configuration for a single agent type.
type Agent struct {
	DisplayName      string   `yaml:"display_name,omitempty"`
	ItemTypes        []string `yaml:"item_types"`                   // Processable work item types (stage routing)
	PollIntervalMs   int      `yaml:"poll_interval_ms,omitempty"`   // Default: 5000
	MaxConcurrent    int      `yaml:"max_concurrent,omitempty"`     // Accepted, not enforced beyond the sequential loop
	ClaimBudget      int      `yaml:"claim_budget,omitempty"`       // Claim attempts per window. Default: 10
	ClaimWindowMins  int      `yaml:"claim_window_mins,omitempty"`  // Rate limit window. Default: 1
	HeartbeatSecs    int      `yaml:"heartbeat_secs,omitempty"`     // Default: 30
	MaxClaimAttempts int      `yaml:"max_claim_attempts,omitempty"` // Fetch+claim cycles per poll. Default: 3
	CandidateFetch   int      `yaml:"candidate_fetch,omitempty"`    // Candidates per cycle. Default: 5
}

// GeneratorConfig specifies how to reach the external content generator service.
type GeneratorConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`  // Env var holding the bearer token
	TimeoutSecs int    `yaml:"timeout_secs,omitempty"` // Default: 60
}

// defaultItemTypes is the built-in stage routing for the three standard agent
// types. Configs may list these agents without item_types and inherit the
// defaults; unknown agent types must declare their own.
var defaultItemTypes = map[string][]string{
	"project_manager": {"project_spec", "feature"},
	"scrum_master":    {"prd"},
	"developer":       {"story", "bug", "task"},
}

// Validate performs strict validation on the configuration and applies
// defaults in place.
func (c *PipelineConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: pipeline name
	if c.Pipeline == "" {
		return fmt.Errorf("pipeline name is required")
	}

	// Required: at least one agent
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	// Validate each agent and apply defaults
	for name, agent := range c.Agents {
		if err := agent.Validate(name); err != nil {
			return err
		}
		c.Agents[name] = agent
	}

	// An item type routed to two agents would make the stage graph ambiguous
	typesSeen := make(map[string]string) // item type -> agent name
	for agentName, agent := range c.Agents {
		for _, itemType := range agent.ItemTypes {
			if existing, exists := typesSeen[itemType]; exists {
				return fmt.Errorf("item type '%s' routed to both '%s' and '%s': each type must map to exactly one agent",
					itemType, existing, agentName)
			}
			typesSeen[itemType] = agentName
		}
	}

	if c.Generator != nil {
		if c.Generator.Endpoint == "" {
			return fmt.Errorf("generator.endpoint is required when generator is configured")
		}
		if c.Generator.TimeoutSecs == 0 {
			c.Generator.TimeoutSecs = 60
		}
		if c.Generator.TimeoutSecs < 0 {
			return fmt.Errorf("generator.timeout_secs must be >= 0, got %d", c.Generator.TimeoutSecs)
		}
	}

	return nil
}

// Validate performs validation on a single agent configuration and applies
// defaults in place. Map iteration yields copies, so callers ranging over
// PipelineConfig.Agents must store the mutated value back.
func (a *Agent) Validate(name string) error {
	// Apply built-in routing for the standard agent types
	if len(a.ItemTypes) == 0 {
		a.ItemTypes = defaultItemTypes[name]
	}

	if len(a.ItemTypes) == 0 {
		return fmt.Errorf("agent '%s': item_types is required for non-standard agent types", name)
	}

	for _, itemType := range a.ItemTypes {
		if itemType == "" {
			return fmt.Errorf("agent '%s': item_types must not contain empty entries", name)
		}
	}

	if a.DisplayName == "" {
		a.DisplayName = name
	}

	if a.PollIntervalMs == 0 {
		a.PollIntervalMs = 5000
	}
	if a.PollIntervalMs < 0 {
		return fmt.Errorf("agent '%s': poll_interval_ms must be >= 0, got %d", name, a.PollIntervalMs)
	}

	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = 1
	}
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("agent '%s': max_concurrent must be >= 1, got %d", name, a.MaxConcurrent)
	}

	if a.ClaimBudget == 0 {
		a.ClaimBudget = 10
	}
	if a.ClaimBudget < 1 {
		return fmt.Errorf("agent '%s': claim_budget must be >= 1, got %d", name, a.ClaimBudget)
	}

	if a.ClaimWindowMins == 0 {
		a.ClaimWindowMins = 1
	}
	if a.ClaimWindowMins < 1 {
		return fmt.Errorf("agent '%s': claim_window_mins must be >= 1, got %d", name, a.ClaimWindowMins)
	}

	if a.HeartbeatSecs == 0 {
		a.HeartbeatSecs = 30
	}
	if a.HeartbeatSecs < 1 {
		return fmt.Errorf("agent '%s': heartbeat_secs must be >= 1, got %d", name, a.HeartbeatSecs)
	}

	if a.MaxClaimAttempts == 0 {
		a.MaxClaimAttempts = 3
	}
	if a.MaxClaimAttempts < 1 {
		return fmt.Errorf("agent '%s': max_claim_attempts must be >= 1, got %d", name, a.MaxClaimAttempts)
	}

	if a.CandidateFetch == 0 {
		a.CandidateFetch = 5
	}
	if a.CandidateFetch < 1 {
		return fmt.Errorf("agent '%s': candidate_fetch must be >= 1, got %d", name, a.CandidateFetch)
	}

	return nil
}

// Load reads and validates pipeline.yml from the specified path.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config PipelineConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
