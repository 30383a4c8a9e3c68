package testengine

import (
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/flags"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

func newCliContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			args: []string{"--manifest", "testengine.yaml"},
			check: func(t *testing.T, cfg *Config) {
				abs, err := filepath.Abs("testengine.yaml")
				require.NoError(t, err)
				assert.Equal(t, abs, cfg.ManifestFile)
				assert.True(t, filepath.IsAbs(cfg.ResultFile))
				assert.Equal(t, "TestResult.xml", filepath.Base(cfg.ResultFile))
				assert.Equal(t, "go", cfg.GoBinary)
				assert.True(t, cfg.RunOnce)
				assert.False(t, cfg.Watch)
				assert.False(t, cfg.Explore)
				assert.Empty(t, cfg.EventLog)
				assert.Empty(t, cfg.MetricsAddr)
				assert.True(t, cfg.Filter.IsEmpty())
				assert.Empty(t, cfg.Overrides)
			},
		},
		{
			name: "run interval disables run-once",
			args: []string{"--manifest", "m.yaml", "--run-interval", "30m"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 30*time.Minute, cfg.RunInterval)
				assert.False(t, cfg.RunOnce)
			},
		},
		{
			name: "watch disables run-once",
			args: []string{"--manifest", "m.yaml", "--watch"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Watch)
				assert.False(t, cfg.RunOnce)
			},
		},
		{
			name: "selection flags build a filter",
			args: []string{"--manifest", "m.yaml", "--test", "TestA", "--test", "TestB", "--category", "Slow"},
			check: func(t *testing.T, cfg *Config) {
				require.False(t, cfg.Filter.IsEmpty())
				slowA := filter.TestInfo{Name: "TestA", FullName: "example.com/pkg.TestA", Categories: []string{"Slow"}}
				fastB := filter.TestInfo{Name: "TestB", FullName: "example.com/pkg.TestB", Categories: []string{"Fast"}}
				slowC := filter.TestInfo{Name: "TestC", FullName: "example.com/pkg.TestC", Categories: []string{"Slow"}}
				assert.True(t, cfg.Filter.Match(slowA))
				assert.False(t, cfg.Filter.Match(fastB))
				assert.False(t, cfg.Filter.Match(slowC))
			},
		},
		{
			name: "settings given on the command line become overrides",
			args: []string{"--manifest", "m.yaml", "--max-agents", "3", "--parallel", "2", "--timeout", "5m",
				"--target-go", "go1.22", "--go-binary", "/usr/local/go/bin/go", "--dispose-runners", "--x86"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, map[string]any{
					types.MaxAgents:              3,
					types.NumberOfTestWorkers:    2,
					types.DefaultTimeout:         5 * time.Minute,
					types.TargetRuntimeFramework: "go1.22",
					types.GoBinary:               "/usr/local/go/bin/go",
					types.DisposeRunners:         true,
					types.RunAsX86:               true,
				}, cfg.Overrides)
			},
		},
		{
			name: "event log path is absolute",
			args: []string{"--manifest", "m.yaml", "--event-log", "out/events.log"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, filepath.IsAbs(cfg.EventLog))
				assert.Equal(t, "events.log", filepath.Base(cfg.EventLog))
			},
		},
		{
			name: "metrics address",
			args: []string{"--manifest", "m.yaml", "--metrics.enabled", "--metrics.addr", "127.0.0.1", "--metrics.port", "7300"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:7300", cfg.MetricsAddr)
			},
		},
		{
			name:    "missing manifest",
			args:    []string{},
			wantErr: "missing required flags",
		},
		{
			name:    "negative interval",
			args:    []string{"--manifest", "m.yaml", "--run-interval", "-1m"},
			wantErr: "must not be negative",
		},
		{
			name:    "explore with watch",
			args:    []string{"--manifest", "m.yaml", "--explore", "--watch"},
			wantErr: "explore mode cannot be combined",
		},
		{
			name:    "negative max agents",
			args:    []string{"--manifest", "m.yaml", "--max-agents", "-1"},
			wantErr: "max agents must not be negative",
		},
		{
			name:    "zero parallel",
			args:    []string{"--manifest", "m.yaml", "--parallel", "0"},
			wantErr: "parallel must be at least 1",
		},
		{
			name:    "invalid where expression",
			args:    []string{"--manifest", "m.yaml", "--where", "test =="},
			wantErr: "invalid test selection",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(newCliContext(t, tc.args...), testLogger())
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg.Log)
			tc.check(t, cfg)
		})
	}
}
