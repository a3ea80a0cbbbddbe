// Package config loads voxhub's runtime configuration. Precedence is CLI
// flags > environment variables > defaults, the same rule flowpbx's
// internal/config.Load documents; flags are bound with
// github.com/spf13/pflag (via cobra) instead of the standard flag package,
// matching the CLI framework the rest of the ambient stack uses.
package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

const envPrefix = "VOXHUB_"

// Config holds the settings shared by both the client and server
// endpoints; each binary only reads the fields relevant to its role.
type Config struct {
	DataHost    string
	DataPort    int
	ControlPort int
	LogLevel    string

	RoomDefault int
}

const (
	defaultDataPort    = 9987
	defaultControlPort = 9988
	defaultLogLevel    = "info"
)

// BindFlags registers every config field onto fs, to be called once per
// cobra command before fs.Parse runs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DataHost, "host", "0.0.0.0", "bind/connect host for the data TCP+UDP endpoint")
	fs.IntVar(&c.DataPort, "data-port", defaultDataPort, "TCP+UDP data port")
	fs.IntVar(&c.ControlPort, "control-port", defaultControlPort, "control-plane TCP port (server only)")
	fs.StringVar(&c.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
}

// ApplyEnv overrides any flag not explicitly set on the command line with
// its VOXHUB_-prefixed environment variable, preserving flags > env >
// defaults.
func (c *Config) ApplyEnv(fs *pflag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })

	override := func(name string, apply func(string)) {
		if set[name] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + envName(name)); ok {
			apply(v)
		}
	}

	override("host", func(v string) { c.DataHost = v })
	override("data-port", func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.DataPort = n
		}
	})
	override("control-port", func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.ControlPort = n
		}
	})
	override("log-level", func(v string) { c.LogLevel = v })
}

func envName(flagName string) string {
	out := make([]byte, len(flagName))
	for i := 0; i < len(flagName); i++ {
		c := flagName[i]
		if c == '-' {
			c = '_'
		} else if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
