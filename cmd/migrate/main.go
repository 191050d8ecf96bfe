package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"treasuryd/internal/config"
	"treasuryd/internal/database"
)

func main() {
	var (
		configPath     = flag.String("config", "configs/config.yaml", "Configuration file path")
		migrationsPath = flag.String("path", "migrations", "Migrations directory")
		up             = flag.Bool("up", false, "Run pending migrations")
		down           = flag.Bool("down", false, "Roll back all migrations")
		version        = flag.Bool("version", false, "Show current migration version")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, *migrationsPath)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch {
	case *down:
		if err := migrator.Down(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
	case *version:
		v, dirty, err := migrator.Version()
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
	case *up:
		fallthrough
	default:
		if err := migrator.Up(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}
}
