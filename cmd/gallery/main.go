package main

import (
	"context"
	"fmt"
	"os"

	"gallery/internal/cli"
	"gallery/internal/config"
	"gallery/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		logger.Warn("file logging unavailable, using stdout only", "error", err)
	}

	if err := cli.NewRootCmd(cli.NewRoot(cfg, logger)).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
