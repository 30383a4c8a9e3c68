package testengine

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/flags"
	"github.com/ethereum-optimism/infra/op-testengine/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	ManifestFile string
	GoBinary     string
	RunInterval  time.Duration // Interval between test runs
	RunOnce      bool          // Exit after one run; false with a run interval or watch mode
	Explore      bool          // Write the discovered tests instead of running them
	Watch        bool          // Reload and re-run when package directories change
	ResultFile   string
	EventLog     string
	ShowProgress bool
	HealthzAddr  string
	MetricsAddr  string
	CommandLine  string
	// Settings given on the command line; applied to the whole package tree,
	// overriding the manifest
	Overrides map[string]any
	Filter    filter.TestFilter
	Log       log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	manifest := ctx.String(flags.Manifest.Name)
	if manifest == "" {
		return nil, errors.New("manifest file is required")
	}
	absManifest, err := filepath.Abs(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifest, err)
	}

	resultFile := ctx.String(flags.ResultFile.Name)
	if resultFile == "" {
		return nil, errors.New("result file is required")
	}
	absResult, err := filepath.Abs(resultFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for result file '%s': %w", resultFile, err)
	}

	eventLog := ctx.String(flags.EventLog.Name)
	if eventLog != "" {
		if eventLog, err = filepath.Abs(eventLog); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for event log: %w", err)
		}
	}

	builder := filter.NewBuilder().SelectWhere(ctx.String(flags.Where.Name))
	for _, name := range ctx.StringSlice(flags.Tests.Name) {
		builder.AddTest(name)
	}
	for _, cat := range ctx.StringSlice(flags.Categories.Name) {
		builder.AddCategory(cat)
	}
	testFilter, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid test selection: %w", err)
	}

	overrides, err := settingOverrides(ctx)
	if err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, fmt.Errorf("run interval must not be negative: %s", runInterval)
	}
	explore := ctx.Bool(flags.Explore.Name)
	watch := ctx.Bool(flags.Watch.Name)
	if explore && (watch || runInterval > 0) {
		return nil, errors.New("explore mode cannot be combined with watch mode or a run interval")
	}

	var metricsAddr string
	if metricsCfg := opmetrics.ReadCLIConfig(ctx); metricsCfg.Enabled {
		metricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	return &Config{
		ManifestFile: absManifest,
		GoBinary:     ctx.String(flags.GoBinary.Name),
		RunInterval:  runInterval,
		RunOnce:      runInterval == 0 && !watch,
		Explore:      explore,
		Watch:        watch,
		ResultFile:   absResult,
		EventLog:     eventLog,
		ShowProgress: ctx.Bool(flags.ShowProgress.Name),
		HealthzAddr:  ctx.String(flags.HealthzAddr.Name),
		MetricsAddr:  metricsAddr,
		CommandLine:  strings.Join(os.Args, " "),
		Overrides:    overrides,
		Filter:       testFilter,
		Log:          log,
	}, nil
}

// settingOverrides collects the package settings given explicitly on the
// command line
func settingOverrides(ctx *cli.Context) (map[string]any, error) {
	overrides := make(map[string]any)
	if ctx.IsSet(flags.MaxAgents.Name) {
		n := ctx.Int(flags.MaxAgents.Name)
		if n < 0 {
			return nil, fmt.Errorf("max agents must not be negative: %d", n)
		}
		overrides[types.MaxAgents] = n
	}
	if ctx.IsSet(flags.Parallel.Name) {
		n := ctx.Int(flags.Parallel.Name)
		if n < 1 {
			return nil, fmt.Errorf("parallel must be at least 1: %d", n)
		}
		overrides[types.NumberOfTestWorkers] = n
	}
	if ctx.IsSet(flags.DefaultTimeout.Name) {
		overrides[types.DefaultTimeout] = ctx.Duration(flags.DefaultTimeout.Name)
	}
	if ctx.IsSet(flags.TargetRuntime.Name) {
		overrides[types.TargetRuntimeFramework] = ctx.String(flags.TargetRuntime.Name)
	}
	if ctx.IsSet(flags.GoBinary.Name) {
		overrides[types.GoBinary] = ctx.String(flags.GoBinary.Name)
	}
	for name, key := range map[string]string{
		flags.DisposeRunners.Name:      types.DisposeRunners,
		flags.SkipNonTestPackages.Name: types.SkipNonTestAssemblies,
		flags.RunAsX86.Name:            types.RunAsX86,
	} {
		if ctx.IsSet(name) {
			overrides[key] = ctx.Bool(name)
		}
	}
	return overrides, nil
}
