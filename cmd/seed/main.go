package main

import (
	"context"
	"flag"

	"github.com/2beens/lifti/internal/config"
	"github.com/2beens/lifti/internal/exercises"
	"github.com/2beens/lifti/internal/logging"
	"github.com/2beens/lifti/internal/store"
	"github.com/2beens/lifti/pkg"

	log "github.com/sirupsen/logrus"
)

// lifti exercise catalog seed cmd

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	seedPath := flag.String("seed", "", "path to the exercises seed JSON (defaults to catalog_seed_path from config)")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogToStdout: true,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
	})

	path := *seedPath
	if path == "" {
		path = cfg.CatalogSeedPath
	}
	if path == "" {
		log.Fatalln("seed file path not set, use -seed flag or catalog_seed_path in config")
	}

	// fail before touching the database
	switch exists, err := pkg.PathExists(path, false); {
	case err != nil:
		log.Fatalf("check seed file %s: %s", path, err)
	case !exists:
		log.Fatalf("seed file %s does not exist", path)
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("open entity store: %s", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("close entity store: %s", err)
		}
	}()

	repo := exercises.NewRepo(db)
	seeded, err := repo.SeedFromFile(ctx, path)
	if err != nil {
		log.Fatalf("seed exercise catalog: %s", err)
	}

	total, err := repo.Count(ctx)
	if err != nil {
		log.Fatalf("count exercises: %s", err)
	}

	log.Printf("seed done, %d new exercises added, %d total in catalog", seeded, total)
}
