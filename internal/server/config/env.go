package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name, e.g. VIDTUBE_HTTP_ADDR.
const EnvPrefix = "VIDTUBE_"

// parseEnv overlays fields whose variables are set; unset variables keep the
// current value.
func parseEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
