// Package main 提供 MySQL 表结构迁移的命令行工具
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/database"
	"github.com/MorseWayne/pharmacy_shop/internal/logger"
)

const usage = `Usage: %s -action=[up|down|version|force|status] [options]

Examples:
  ./migrate -action=up                 # run all pending migrations
  ./migrate -action=down -steps=1      # roll back one migration
  ./migrate -action=version -target=1  # migrate to a specific version
  ./migrate -action=force -target=0    # clear dirty state after a manual fix
  ./migrate -action=status             # print the current version
`

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version, force, status")
		steps  = flag.Int("steps", 1, "Number of steps for down migration")
		target = flag.Uint("target", 0, "Target version for version or force migration")
		dir    = flag.String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "migrate", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.New(cfg, lg)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Error("failed to close database", zap.Error(err))
		}
	}()

	migrationsDir := cfg.Migrations.Dir
	if *dir != "" {
		migrationsDir = *dir
	}

	switch *action {
	case "up":
		err = db.RunMigrations(migrationsDir)
	case "down":
		if *steps <= 0 {
			lg.Fatal("steps must be positive for down migration")
		}
		err = db.MigrateDown(migrationsDir, *steps)
	case "version":
		if *target == 0 {
			lg.Fatal("target version must be specified for version migration")
		}
		err = db.MigrateToVersion(migrationsDir, *target)
	case "force":
		// 版本 0 表示重置为未迁移状态
		err = db.ForceMigrationVersion(migrationsDir, *target)
	case "status":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = db.Version(migrationsDir)
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		lg.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
	lg.Info("migration finished", zap.String("action", *action))
}
