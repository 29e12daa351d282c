// Applies migrations/*.sql in lexical order. Files are idempotent
// (IF NOT EXISTS throughout) so re-running the full set is safe; applied
// files are still recorded in schema_migrations for visibility.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML config")
		dir        = flag.String("dir", "migrations", "migrations directory")
		listOnly   = flag.Bool("list", false, "list current tables and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if *listOnly {
		listTables(db)
		return
	}

	if err := run(db, *dir); err != nil {
		log.Fatal(err)
	}
}

func listTables(db *sql.DB) {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		rows.Scan(&t)
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
}

func run(db *sql.DB, dir string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var applied, failed int
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		started := time.Now()
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			failed++
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`,
			f); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f, err)
		}
		fmt.Printf("OK (%s)\n", time.Since(started).Round(time.Millisecond))
		applied++
	}

	log.Printf("Done: %d OK, %d errors", applied, failed)
	if failed > 0 {
		return fmt.Errorf("%d migration(s) failed", failed)
	}
	return nil
}
