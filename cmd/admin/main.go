package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/scormetry/scormetry/internal/config"
	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Options{Debug: cfg.Log.Debug})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	driver := db.Driver(cfg.DB.Driver)
	dbh, err := db.Connect(ctx, driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer dbh.Close()

	cli := commandLine{db: dbh, driver: driver, out: os.Stdout, log: log}
	if err := cli.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			log.Error("command failed", zap.Error(err))
		}
		os.Exit(1)
	}
}
