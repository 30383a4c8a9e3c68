package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testengine "github.com/ethereum-optimism/infra/op-testengine"
	"github.com/ethereum-optimism/infra/op-testengine/exitcodes"
	"github.com/ethereum-optimism/infra/op-testengine/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testengine"
	app.Usage = "Go test execution engine"
	app.Description = "op-testengine loads, explores and runs the Go test packages named by a manifest"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			cli.HandleExitCoder(exitErr)
		case testengine.IsRuntimeError(err):
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
		case testengine.IsTestFailureError(err):
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
		default:
			// unclassified
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
		}
	}

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := testengine.NewConfig(ctx, log)
	if err != nil {
		return nil, testengine.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "manifest", cfg.ManifestFile, "result", cfg.ResultFile, "filter", cfg.Filter.String())

	engine, err := testengine.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, testengine.NewRuntimeError(fmt.Errorf("failed to create test engine: %w", err))
	}
	return engine, nil
}
