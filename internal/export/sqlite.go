// Package export dumps a state store into SQLite for offline inspection
// and downstream indexing.
package export

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
	"github.com/klingon-exchange/chaindb/pkg/logging"
)

// Result summarizes one export run.
type Result struct {
	ID               string
	Scopes           int
	Tables           int
	Rows             int
	SecondaryEntries int
}

// Exporter writes state snapshots into a SQLite database.
type Exporter struct {
	db  *sql.DB
	log *logging.Logger
}

// New opens (or creates) the SQLite database at path.
func New(path string, log *logging.Logger) (*Exporter, error) {
	if log == nil {
		log = logging.GetDefault().Component("export")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open export database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping export database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	e := &Exporter{db: db, log: log}
	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize export schema: %w", err)
	}
	return e, nil
}

// Close closes the database connection.
func (e *Exporter) Close() error {
	return e.db.Close()
}

// initSchema creates all export tables.
func (e *Exporter) initSchema() error {
	schema := `
	-- One row per export run
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		scope_count INTEGER NOT NULL,
		table_count INTEGER NOT NULL,
		row_count INTEGER NOT NULL
	);

	-- State rows, flattened per export
	CREATE TABLE IF NOT EXISTS state_rows (
		export_id TEXT NOT NULL,
		code INTEGER NOT NULL,
		scope INTEGER NOT NULL,
		table_name INTEGER NOT NULL,
		primary_key INTEGER NOT NULL,
		payer INTEGER NOT NULL,
		payload BLOB,
		PRIMARY KEY (export_id, code, scope, table_name, primary_key)
	);

	CREATE INDEX IF NOT EXISTS idx_state_rows_table
		ON state_rows(export_id, code, scope, table_name);

	-- Secondary index entries, little-endian wire encoding
	CREATE TABLE IF NOT EXISTS secondary_entries (
		export_id TEXT NOT NULL,
		code INTEGER NOT NULL,
		scope INTEGER NOT NULL,
		table_name INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		kind TEXT NOT NULL,
		primary_key INTEGER NOT NULL,
		payer INTEGER NOT NULL,
		secondary BLOB NOT NULL,
		PRIMARY KEY (export_id, code, scope, table_name, slot, primary_key)
	);
	`
	if _, err := e.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Export walks the whole database and writes one snapshot run.
func (e *Exporter) Export(db *database.Database) (*Result, error) {
	res := &Result{ID: uuid.New().String()}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer tx.Rollback()

	rowStmt, err := tx.Prepare(`
		INSERT INTO state_rows (export_id, code, scope, table_name, primary_key, payer, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer rowStmt.Close()

	secStmt, err := tx.Prepare(`
		INSERT INTO secondary_entries (export_id, code, scope, table_name, slot, kind, primary_key, payer, secondary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare secondary insert: %w", err)
	}
	defer secStmt.Close()

	var walkErr error
	db.Scopes(func(s *database.Scope) bool {
		res.Scopes++
		s.Tables(func(t *table.Table) bool {
			res.Tables++
			if err := e.exportTable(rowStmt, secStmt, res, s, t); err != nil {
				walkErr = err
				return false
			}
			return true
		})
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	_, err = tx.Exec(`
		INSERT INTO exports (id, created_at, revision, scope_count, table_count, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.ID, time.Now().Unix(), db.Revision(), res.Scopes, res.Tables, res.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to record export run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export: %w", err)
	}

	e.log.Info("state exported",
		"id", res.ID, "scopes", res.Scopes, "tables", res.Tables, "rows", res.Rows)
	return res, nil
}

func (e *Exporter) exportTable(rowStmt, secStmt *sql.Stmt, res *Result, s *database.Scope, t *table.Table) error {
	var err error
	t.Scan(func(r *table.Row) bool {
		_, err = rowStmt.Exec(res.ID, s.ID.Code, s.ID.Scope, t.Name, int64(r.Primary), int64(r.Payer), t.Payload(r))
		if err != nil {
			return false
		}
		res.Rows++
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to export rows of table %d: %w", t.Name, err)
	}

	for slot := 0; slot < t.SecondaryCount(); slot++ {
		idx := t.Secondary(slot)
		idx.Scan(func(entry *table.Entry) bool {
			var wire []byte
			wire, err = keys.WireFromCanonical(idx.Kind(), entry.Sec)
			if err != nil {
				return false
			}
			_, err = secStmt.Exec(res.ID, s.ID.Code, s.ID.Scope, t.Name, slot,
				idx.Kind().String(), int64(entry.Primary), int64(entry.Payer), wire)
			if err != nil {
				return false
			}
			res.SecondaryEntries++
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to export secondary %d of table %d: %w", slot, t.Name, err)
		}
	}
	return nil
}
