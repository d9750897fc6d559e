package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server"
	"github.com/dmitrijs2005/vidtube/internal/server/admin"
	"github.com/dmitrijs2005/vidtube/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, "text")

	// OpenStore migrates on open, so "migrate" has nothing left to do.
	db, m, err := server.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if db != nil {
		defer db.Close()
	}

	svc, err := server.NewAccountService(cfg, db, m, nil, nil, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cmds := admin.NewCommands(func(ctx context.Context) error { return m.RunMigrations(ctx, db) }, svc)
	if err := cmds.Run(ctx, admin.Positional(os.Args[1:])); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
