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

	"github.com/joho/godotenv"
	"github.com/lib/pq"
)

var insightTables = []string{
	"profiles",
	"preferences",
	"connections",
	"insights",
	"email_logs",
	"insight_job_runs",
}

const createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir := flag.String("dir", "migrations", "directory of *.sql migrations")
	listOnly := flag.Bool("list", false, "list insight tables and exit")
	flag.Parse()

	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if *listOnly {
		found, err := existingTables(db)
		if err != nil {
			log.Fatal(err)
		}
		for _, t := range found {
			fmt.Println(" ", t)
		}
		fmt.Printf("Total: %d of %d tables\n", len(found), len(insightTables))
		return
	}

	files, err := migrationFiles(*dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", *dir, err)
	}

	res, err := migrate(db, *dir, files)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Done: %d OK, %d already applied, %d errors", res.applied, res.skipped, len(res.failed))
	if len(res.failed) > 0 {
		for _, f := range res.failed {
			log.Printf("  failed: %s", f)
		}
		os.Exit(1)
	}
	log.Println("Migrations complete")
}

type migrateResult struct {
	applied int
	skipped int
	failed  []string
}

// migrate applies every file not yet recorded in schema_migrations, each in
// its own transaction together with its tracking row. A failed file does not
// stop later ones.
func migrate(db *sql.DB, dir string, files []string) (migrateResult, error) {
	var res migrateResult

	if _, err := db.Exec(createTrackingTable); err != nil {
		return res, fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedMigrations(db)
	if err != nil {
		return res, fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, f := range files {
		if done[f] {
			res.skipped++
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return res, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		fmt.Printf("  %s ... ", f)
		if err := applyOne(db, f, string(data)); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			res.failed = append(res.failed, f)
			continue
		}
		fmt.Println("OK")
		res.applied++
	}
	return res, nil
}

func applyOne(db *sql.DB, filename, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(content); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
		tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

// migrationFiles returns the *.sql names in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out[f] = true
	}
	return out, rows.Err()
}

func existingTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(
		"SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename = ANY($1) ORDER BY tablename",
		pq.Array(insightTables),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
