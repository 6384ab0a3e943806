package config

import "github.com/caarlos0/env/v11"

// EnvPrefix namespaces every environment variable read by the server.
const EnvPrefix = "LEADCRM_"

// parseEnv overlays LEADCRM_* environment variables onto config. Unset
// variables leave the current value untouched. Malformed values panic, the
// same way a broken JSON file does.
func parseEnv(config *Config) {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		panic(err)
	}
}
