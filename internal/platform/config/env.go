// Package config centralizes environment-based configuration parsing.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv populates target from environment variables using `env` tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
