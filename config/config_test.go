package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
)

func TestApplyEnvOverridesUnsetFlags(t *testing.T) {
	os.Setenv("VOXHUB_DATA_PORT", "4242")
	defer os.Unsetenv("VOXHUB_DATA_PORT")

	var cfg Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg.ApplyEnv(fs)

	if cfg.DataPort != 4242 {
		t.Fatalf("expected env override to apply, got %d", cfg.DataPort)
	}
}

func TestExplicitFlagBeatsEnv(t *testing.T) {
	os.Setenv("VOXHUB_DATA_PORT", "4242")
	defer os.Unsetenv("VOXHUB_DATA_PORT")

	var cfg Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"--data-port=1111"}); err != nil {
		t.Fatal(err)
	}

	cfg.ApplyEnv(fs)

	if cfg.DataPort != 1111 {
		t.Fatalf("expected the explicit flag to win over env, got %d", cfg.DataPort)
	}
}

func TestDefaultsApplyWithoutFlagsOrEnv(t *testing.T) {
	var cfg Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg.ApplyEnv(fs)

	if cfg.DataPort != defaultDataPort {
		t.Fatalf("expected default data port %d, got %d", defaultDataPort, cfg.DataPort)
	}
}
