package main

import (
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

// setupLog configures the global logger from the environment. Logs go to
// stderr unless BOOKVOICE_LOG names a file; BOOKVOICE_DEBUG lowers the level.
func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[envConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
	log.SetReportTimestamp(true)

	if cfg.LogFile == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	log.SetOutput(io.Writer(f))
	return f.Close, nil
}
