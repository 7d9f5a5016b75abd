package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/bootstrap"
	"model-uploader/internal/config"
)

var verbose = flag.Bool("v", false, "log progress details to stderr")

var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	bootstrap.InitLogger(cfg)
	if !*verbose && log.GetLevel() > log.WarnLevel {
		log.SetLevel(log.WarnLevel)
	}
	return cfg, nil
}

// run wires the application and hands it to fn, translating the result into
// an exit status.
func run(ctx context.Context, fn func(app *bootstrap.App) error, opts ...bootstrap.Option) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}

	app, err := bootstrap.New(ctx, cfg, opts...)
	if err != nil {
		log.Errorf("wire application: %v", err)
		return subcommands.ExitFailure
	}
	defer app.Close()

	return exitStatus(fn(app))
}

func exitStatus(err error) subcommands.ExitStatus {
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, errUsage):
		log.Error(err)
		return subcommands.ExitUsageError
	default:
		log.Error(err)
		return subcommands.ExitFailure
	}
}
