package app

import (
	"greenproof/internal/config"
)

// ResolveConfig loads greenproof.yml from the workspace, falling back to the
// built-in defaults when the file is absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
