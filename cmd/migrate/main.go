// Command migrate applies or rolls back the SQL schema migrations.
//
//	migrate up
//	migrate down -steps 1
//	migrate to -version 3
//	migrate version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/database/migrations"
	"ms-marketplace/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := fs.String("dir", cfg.Database.MigrationsDir, "migrations directory")
	steps := fs.Int("steps", 0, "number of migrations to roll back (0 = all)")
	version := fs.Uint("version", 0, "target version for the to command")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|to|version> [flags]")
		os.Exit(2)
	}
	cmd := os.Args[1]
	_ = fs.Parse(os.Args[2:])

	log := logger.NewLogger()
	bunDB, err := database.Connect(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, *dir, log)
	defer runner.Close()

	switch cmd {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down(*steps)
	case "to":
		err = runner.To(*version)
	case "version":
		var v uint
		var dirty bool
		v, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%v\n", v, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}
