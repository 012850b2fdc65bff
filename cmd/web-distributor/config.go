package main

import (
	"os"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	envConfigKey     = "WEB_DISTRIBUTOR_CONFIG"
	envConfigDefault = "/etc/web-distributor.toml"
	envDebugKey      = "WEB_DISTRIBUTOR_DEBUG"
	envDebugDefault  = ""
)

var debugValues = []string{"1", "true", "yes", "all"}

// Config is the user-definable configuration for web-distributor. Command line flags take precedence.
type Config struct {
	RegistryPath string
	Debug        bool
}

func optionalStringVar(key string, fallback string) (value string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}
	return
}

func createConfig() *Config {
	debug := strings.ToLower(strings.TrimSpace(optionalStringVar(envDebugKey, envDebugDefault)))
	return &Config{
		RegistryPath: optionalStringVar(envConfigKey, envConfigDefault),
		Debug:        slices.Contains(debugValues, debug),
	}
}
