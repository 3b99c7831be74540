package commands

import (
	"github.com/tangleward/tangle/config"
)

// CLIConfig is the config.Config every command flag ultimately writes into.
type CLIConfig struct {
	Tangle config.Config `mapstructure:",squash"`
}

// NewDefaultCLIConfig creates a CLIConfig with every default value set.
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Tangle: *config.NewDefaultConfig(),
	}
}
