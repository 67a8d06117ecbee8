// Package config loads server configuration from a config file,
// environment variables, and command-line flags, layered via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable the server needs at startup.
type Config struct {
	ListenAddr  string
	MaxAccounts int
	MaxTraders  int
	LogLevel    string
	DepthLevels int
}

// Default returns the configuration used when no file, environment
// variable, or flag overrides a setting.
func Default() Config {
	return Config{
		ListenAddr:  ":6190",
		MaxAccounts: 1024,
		MaxTraders:  1024,
		LogLevel:    "info",
		DepthLevels: 5,
	}
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, an optional config file at configPath, and environment
// variables prefixed BOURSE_ (e.g. BOURSE_LISTEN_ADDR).
func Load(configPath string) (Config, error) {
	def := Default()

	v := viper.New()
	v.SetEnvPrefix("bourse")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("max_accounts", def.MaxAccounts)
	v.SetDefault("max_traders", def.MaxTraders)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("depth_levels", def.DepthLevels)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	return Config{
		ListenAddr:  v.GetString("listen_addr"),
		MaxAccounts: v.GetInt("max_accounts"),
		MaxTraders:  v.GetInt("max_traders"),
		LogLevel:    v.GetString("log_level"),
		DepthLevels: v.GetInt("depth_levels"),
	}, nil
}
