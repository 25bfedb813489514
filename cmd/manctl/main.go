// Command manctl is the manorchestra operator CLI and process entrypoint:
// `worker` runs a Temporal worker hosting the goal workflow and its
// activities, `api` serves the Operator HTTP API, `submit` starts a single
// goal against a running deployment, and `test` runs the whole pipeline
// against in-memory backends for local smoke-testing.
package main

import (
	"context"
	"fmt"
	"os"

	"goa.design/clue/log"

	"github.com/manorchestra/core/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return usageError()
	}

	cfg := config.FromEnv()
	ctx := logContext(cfg)

	switch os.Args[1] {
	case "worker":
		return runWorker(ctx, cfg)
	case "api":
		return runAPI(ctx, cfg)
	case "submit":
		if len(os.Args) < 3 {
			return usageError()
		}
		return runSubmit(ctx, cfg, os.Args[2])
	case "test":
		return runTest(ctx, cfg)
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("usage: manctl <worker|api|submit \"<goal>\"|test>")
}

func logContext(cfg config.Config) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.LogLevel == "debug" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}
