package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads configuration from the YAML file at configPath, applies
// CAMERA_ENGINE_-prefixed environment overrides, fills in defaults for
// anything left unset, and validates the result. It never returns a
// partially-valid *Config: on error the caller keeps whatever
// configuration it already had.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CAMERA_ENGINE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read configuration file %q: %w", configPath, err)
	}

	cfg := getDefaultConfig()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
