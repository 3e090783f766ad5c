package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/logging"
	"github.com/geochirp/globe-engine/internal/parser"
	"github.com/geochirp/globe-engine/pkg/core"
)

// SeedCmd publishes records from a file.
type SeedCmd struct {
	File string `arg:"" help:"JSON array of records, newest first." type:"existingfile"`
}

// Run loads the config, connects the backend and publishes every record,
// oldest first.
func (c *SeedCmd) Run(cli *CLI) error {
	cfgErr := config.Load(cli.ConfigDir)
	level := config.GetString("logLevel")
	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, level, nil)
	logger := slogManager.Logger()
	if cfgErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	}

	records, err := readRecords(c.File, parser.NewParser(logger))
	if err != nil {
		return err
	}

	backend, err := createStorageBackend(
		config.GetStorageConfig(),
		config.GetDBConfig(),
		config.GetString("logsDir"),
		time.Now(),
		logger,
		logging.NewZerolog(nil, level),
	)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer backend.Close()

	ctx := context.Background()
	for i := len(records) - 1; i >= 0; i-- {
		if err := backend.Publish(ctx, records[i]); err != nil {
			return fmt.Errorf("publish %s: %w", records[i].ID, err)
		}
	}
	logger.Info("Seeded records", "count", len(records), "file", c.File)
	return nil
}

func readRecords(path string, p *parser.Parser) ([]core.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.DecodeRecords(data)
}
