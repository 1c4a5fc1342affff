package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/bootstrap"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "goose migrations directory (defaults to the service kind's directory)")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS)")
	flag.Parse()

	cfg, logg := bootstrap.Load("migrate")

	if *dir == "" {
		*dir = migrate.DirFor(migrate.DefaultDir, cfg.Service.Kind)
	}

	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": *cmd, "dir": *dir})

	// create and validate only touch the filesystem
	switch *cmd {
	case "create":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for create")
			os.Exit(1)
		}
		logg.Info(ctx, "migrate ready")
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		logg.Info(ctx, "migrate ready")
		if err := migrate.ValidateDir(*dir); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	// everything below needs the service database
	dbClient, err := db.New(ctx, cfg.DB, logg)
	bootstrap.Must(logg, "database", err)
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	sqlDB, err := dbClient.DB().DB()
	bootstrap.Must(logg, "sql database", err)

	migrator, err := migrate.NewMigrator(sqlDB, *dir, logg)
	bootstrap.Must(logg, "migrator", err)

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = printStatus(ctx, migrator)
	case "version":
		var target int64
		target, err = migrate.ParseVersion(*version)
		if err == nil {
			err = migrator.To(ctx, target)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, migrator *migrate.Migrator) error {
	rows, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		applied := "pending"
		if row.Applied {
			applied = row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%-14d  %-25s  %s\n", row.Version, applied, row.File)
	}
	return nil
}
