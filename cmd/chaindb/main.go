// Package main provides the chaindb tool: inspect, verify and export
// state-store snapshots.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/klingon-exchange/chaindb/internal/abi"
	"github.com/klingon-exchange/chaindb/internal/arena"
	"github.com/klingon-exchange/chaindb/internal/config"
	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/export"
	"github.com/klingon-exchange/chaindb/internal/table"
	"github.com/klingon-exchange/chaindb/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.chaindb", "Data directory")
		statePath   = flag.String("state", "", "State file path, overrides config")
		abiPath     = flag.String("abi", "", "ABI document to load for schema resolution")
		abiCode     = flag.Uint64("abi-code", 0, "Code account the ABI document belongs to")
		stats       = flag.Bool("stats", false, "Print scope/table/row counts and exit")
		verify      = flag.Bool("verify", false, "Verify snapshot checksum and index invariants")
		exportPath  = flag.String("export", "", "Export state into the given SQLite database")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("chaindb %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	log = logging.New(&logging.Config{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	path := cfg.StatePath()
	if *statePath != "" {
		path = config.ExpandPath(*statePath)
	}

	initial, max, err := cfg.ArenaConfig()
	if err != nil {
		log.Fatal("Invalid arena sizing", "error", err)
	}

	registry := abi.NewRegistry()
	if *abiPath != "" {
		raw, err := os.ReadFile(config.ExpandPath(*abiPath))
		if err != nil {
			log.Fatal("Failed to read ABI document", "error", err)
		}
		if _, err := registry.LoadDocument(*abiCode, raw); err != nil {
			log.Fatal("Failed to load ABI document", "error", err)
		}
	}

	db, err := database.Open(path, registry, &database.Config{
		Arena:  &arena.Config{InitialSize: initial, MaxSize: max},
		Logger: log.Component("database"),
	})
	if err != nil {
		log.Fatal("Failed to open state file", "path", path, "error", err)
	}

	ran := false

	if *verify {
		ran = true
		if err := verifyInvariants(db); err != nil {
			log.Fatal("Invariant check failed", "error", err)
		}
		log.Info("State verified", "path", path, "revision", db.Revision())
	}

	if *stats {
		ran = true
		printStats(db, log)
	}

	if *exportPath != "" {
		ran = true
		exp, err := export.New(config.ExpandPath(*exportPath), log.Component("export"))
		if err != nil {
			log.Fatal("Failed to open export database", "error", err)
		}
		defer exp.Close()

		res, err := exp.Export(db)
		if err != nil {
			log.Fatal("Export failed", "error", err)
		}
		log.Info("Export complete", "id", res.ID, "rows", res.Rows)
	}

	if !ran {
		flag.Usage()
		os.Exit(2)
	}
}

// printStats logs scope, table and row counts.
func printStats(db *database.Database, log *logging.Logger) {
	var scopes, tables, rows, entries int
	db.Scopes(func(s *database.Scope) bool {
		scopes++
		s.Tables(func(t *table.Table) bool {
			tables++
			rows += t.Len()
			for slot := 0; slot < t.SecondaryCount(); slot++ {
				entries += t.Secondary(slot).Len()
			}
			return true
		})
		return true
	})
	log.Info("State statistics",
		"revision", db.Revision(),
		"scopes", scopes,
		"tables", tables,
		"rows", rows,
		"secondary_entries", entries,
		"arena_used", db.Arena().Used(),
		"arena_size", db.Arena().Size(),
	)
}

// verifyInvariants checks that no secondary entry dangles: every entry's
// primary key resolves to a live row in its table.
func verifyInvariants(db *database.Database) error {
	var bad error
	db.Scopes(func(s *database.Scope) bool {
		s.Tables(func(t *table.Table) bool {
			for slot := 0; slot < t.SecondaryCount(); slot++ {
				t.Secondary(slot).Scan(func(e *table.Entry) bool {
					if _, ok := t.Find(e.Primary); !ok {
						bad = fmt.Errorf("dangling secondary entry: scope %d table %d slot %d primary %d",
							s.ID.Scope, t.Name, slot, e.Primary)
						return false
					}
					return true
				})
				if bad != nil {
					return false
				}
			}
			return true
		})
		return bad == nil
	})
	return bad
}
