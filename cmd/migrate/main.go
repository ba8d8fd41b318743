package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/flicky/go-checkout-api/internal/config"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) < 2 {
		log.Error("usage: migrate [up|down]")
		os.Exit(2)
	}
	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	files, err := migrationFiles(cfg.DB.Migrations, direction)
	if err != nil {
		log.Error("list migrations", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Error("read migration", "file", path, "error", err)
			os.Exit(1)
		}
		log.Info("running migration", "file", filepath.Base(path))
		if _, err := db.Exec(string(content)); err != nil {
			log.Error("execute migration", "file", path, "error", err)
			os.Exit(1)
		}
	}

	log.Info("migrations applied", "count", len(files), "direction", direction)
}

// migrationFiles returns the *.up.sql files in ascending order, or the
// *.down.sql files in descending order.
func migrationFiles(dir, direction string) ([]string, error) {
	if direction != "up" && direction != "down" {
		return nil, fmt.Errorf("direction must be up or down, got %q", direction)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	suffix := "." + direction + ".sql"
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}
