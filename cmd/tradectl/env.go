package main

import (
	"context"
	"fmt"

	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/logger"
)

// env holds the clients every subcommand opens.
type env struct {
	cfg    *config.Config
	logg   *logger.Logger
	db     *db.Client
	ledger ledger.Service
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = "tradectl"

	logg := logger.New(logger.Options{
		ServiceName: "tradectl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	return &env{cfg: cfg, logg: logg, db: dbClient, ledger: ledgerSvc}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.logg.Error(context.Background(), "error closing database", err)
	}
}
