// grizzly-serve serves a directory of files over loopback for one
// session, then reports whether everything was consumed. Useful for
// poking at a test case with a real browser.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/environment"
	"github.com/pyoor/grizzly/internal/server"
	"github.com/pyoor/grizzly/internal/testcase"
)

func main() {
	cmd := &cli.Command{
		Name:  "grizzly-serve",
		Usage: "serve a directory over loopback for one session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "directory to serve", Required: true},
			&cli.StringFlag{Name: "entry", Usage: "entry point path", Value: "index.html"},
			&cli.DurationFlag{Name: "timeout", Usage: "session deadline", Value: time.Minute},
			&cli.DurationFlag{Name: "auto-close", Usage: "window.close() delay on 4xx pages (0 disables)"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: serve,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	logger := environment.NewLogger(environment.ParseLevel(cmd.String("log-level")))
	slog.SetDefault(logger)

	tc, err := testcase.LoadFromDir(cmd.String("dir"), cmd.String("entry"), cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	srv, err := server.New(
		server.WithLogger(logger),
		server.WithAutoClose(cmd.Duration("auto-close")),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	sess, err := srv.Serve(tc, nil)
	if err != nil {
		return err
	}
	logger.Info("serving", "url", sess.URL(), "entries", tc.Len())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := sess.Wait(ctx)
	if err != nil {
		logger.Warn("shutting down", "reason", err)
	}
	switch outcome {
	case api.OutcomeAllServed:
		logger.Info("all test case content was served")
	default:
		logger.Warn("failed to serve all test content",
			"outcome", string(outcome), "served", len(sess.Served()))
	}
	return nil
}
