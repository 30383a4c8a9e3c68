package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTENGINE"

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:    "Path to the package manifest (eg. 'testengine.yaml')",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary used to run package tests",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	MaxAgents = &cli.IntFlag{
		Name:    "max-agents",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_AGENTS"),
		Usage:   "Maximum number of packages run at the same time. Overrides the manifest; 0 runs every package at once.",
	}
	DisposeRunners = &cli.BoolFlag{
		Name:    "dispose-runners",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DISPOSE_RUNNERS"),
		Usage:   "Tear down package runners after each run",
	}
	TargetRuntime = &cli.StringFlag{
		Name:    "target-go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET_GO"),
		Usage:   "Go release the packages must support (eg. 'go1.22'). Packages requiring a newer release are reported invalid.",
	}
	SkipNonTestPackages = &cli.BoolFlag{
		Name:    "skip-non-test-packages",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_NON_TEST_PACKAGES"),
		Usage:   "Report packages without tests as skipped instead of running them",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "timeout",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout passed to go test for every package",
	}
	Parallel = &cli.IntFlag{
		Name:    "parallel",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARALLEL"),
		Usage:   "Value of go test -parallel for every package",
	}
	RunAsX86 = &cli.BoolFlag{
		Name:    "x86",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "X86"),
		Usage:   "Run test binaries with GOARCH=386",
	}
	Where = &cli.StringFlag{
		Name:    "where",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WHERE"),
		Usage:   "Test selection expression (eg. 'cat == Slow && !(test =~ \"Flaky\")')",
	}
	Tests = &cli.StringSliceFlag{
		Name:    "test",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST"),
		Usage:   "Run only the named tests",
	}
	Categories = &cli.StringSliceFlag{
		Name:    "category",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CATEGORY"),
		Usage:   "Run only tests in the given categories",
	}
	Explore = &cli.BoolFlag{
		Name:    "explore",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXPLORE"),
		Usage:   "Write the discovered test tree to the result file instead of running tests",
	}
	Watch = &cli.BoolFlag{
		Name:    "watch",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WATCH"),
		Usage:   "Reload and re-run when a package directory changes",
	}
	ResultFile = &cli.StringFlag{
		Name:    "result",
		Value:   "TestResult.xml",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULT"),
		Usage:   "Path of the result file written after every run",
	}
	EventLog = &cli.StringFlag{
		Name:    "event-log",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EVENT_LOG"),
		Usage:   "Path of a file receiving every test event, one per line",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Show a progress bar while tests run",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address of the health check server (eg. '0.0.0.0:8080'). Disabled when empty.",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
}

var optionalFlags = []cli.Flag{
	GoBinary,
	RunInterval,
	MaxAgents,
	DisposeRunners,
	TargetRuntime,
	SkipNonTestPackages,
	DefaultTimeout,
	Parallel,
	RunAsX86,
	Where,
	Tests,
	Categories,
	Explore,
	Watch,
	ResultFile,
	EventLog,
	ShowProgress,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
