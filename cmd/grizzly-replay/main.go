// grizzly-replay re-runs a known test case against a target binary and
// classifies the outcome. The exit code distinguishes "did not
// reproduce" from infrastructure errors so scripts can branch on it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/environment"
	"github.com/pyoor/grizzly/internal/runner"
	"github.com/pyoor/grizzly/internal/server"
	"github.com/pyoor/grizzly/internal/status"
	"github.com/pyoor/grizzly/internal/target"
	"github.com/pyoor/grizzly/internal/testcase"
)

func main() {
	cmd := &cli.Command{
		Name:  "grizzly-replay",
		Usage: "replay a test case bundle against a target binary",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config file"},
			&cli.StringFlag{Name: "bundle", Usage: "bundle directory or .tar.zst archive", Required: true},
			&cli.StringFlag{Name: "entry", Usage: "entry point path", Value: "index.html"},
			&cli.StringFlag{Name: "binary", Usage: "target binary (overrides config)"},
			&cli.IntFlag{Name: "repeat", Usage: "number of runs", Value: 1},
			&cli.BoolFlag{Name: "must-repro", Usage: "exit nonzero unless a failure reproduces"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: replay,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replay(ctx context.Context, cmd *cli.Command) error {
	logger := environment.NewLogger(environment.ParseLevel(cmd.String("log-level")))
	slog.SetDefault(logger)

	cfg, err := environment.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if b := cmd.String("binary"); b != "" {
		cfg.Target.Binary = b
	}
	if cfg.Target.Binary == "" {
		return cli.Exit("no target binary configured", 1)
	}

	tc, err := loadBundle(cmd.String("bundle"), cmd.String("entry"), cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.WithLogger(logger))
	if err != nil {
		return err
	}
	defer srv.Close()

	tgt, err := target.NewProcess(target.Config{
		Binary:        cfg.Target.Binary,
		Args:          cfg.Target.Args,
		LaunchTimeout: cfg.LaunchTimeout(),
		HangGrace:     cfg.HangGrace(),
		LogLimit:      cfg.Target.LogLimitBytes,
		OOMPatterns:   cfg.Target.OOMPatterns,
	}, logger)
	if err != nil {
		return err
	}
	defer tgt.Close(true)

	run, err := runner.New(srv, tgt, runnerOptions(cfg, logger))
	if err != nil {
		return err
	}

	counters := status.NewCounters()
	store, err := status.NewStore(counters)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := newReporter(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reproduced := false
	for i := 0; i < cmd.Int("repeat"); i++ {
		res := run.Run(ctx, tc)
		counters.Record(res)
		if err := store.Publish(); err != nil {
			logger.Warn("status publish failed", "err", err)
		}
		if err := rep.Submit(ctx, tc, res); err != nil {
			logger.Warn("report submit failed", "err", err)
		}
		if res.Status == api.StatusFailure {
			reproduced = true
		}
		if res.Status == api.StatusError {
			logger.Error("run error", "cause", res.Cause)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if cmd.Bool("must-repro") && !reproduced {
		return cli.Exit("failure did not reproduce", 2)
	}
	return nil
}

func loadBundle(path, entry string, cfg *environment.Config) (*testcase.TestCase, error) {
	var tc *testcase.TestCase
	var err error
	if strings.HasSuffix(path, ".tar.zst") {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		tc, err = testcase.ReadArchive(f, entry, cfg.TimeLimit())
	} else {
		tc, err = testcase.LoadFromDir(path, entry, cfg.TimeLimit())
	}
	if err != nil {
		return nil, err
	}
	tc.IdleLimit = cfg.IdleLimit()
	return tc, nil
}

func runnerOptions(cfg *environment.Config, logger *slog.Logger) runner.Options {
	var kinds []api.FailureKind
	for _, k := range cfg.Run.IgnoreKinds {
		kinds = append(kinds, api.FailureKind(k))
	}
	return runner.Options{
		AcceptPartial: cfg.Run.AcceptPartial,
		ReportHangs:   cfg.Run.ReportHangs,
		Reuse:         cfg.Run.Reuse,
		RelaunchAfter: cfg.Run.RelaunchAfter,
		HealthPoll:    cfg.HealthPoll(),
		Ignore: runner.IgnorePolicy{
			Kinds:    kinds,
			Patterns: cfg.Run.IgnorePatterns,
		},
		Logger: logger,
	}
}
