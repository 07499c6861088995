// Package database ties the state-store engine together: a scope registry
// partitioned into shards, tables of rows backed by the arena, and a
// revision-numbered undo stack that can unwind any open session.
//
// There are no globals; everything hangs off an explicit Database handle.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/klingon-exchange/chaindb/internal/arena"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
	"github.com/klingon-exchange/chaindb/pkg/logging"
)

// Database errors.
var (
	ErrUnknownScope         = errors.New("unknown scope")
	ErrUnknownTable         = errors.New("unknown table")
	ErrScopeExists          = errors.New("scope already exists")
	ErrTableExists          = errors.New("table already exists")
	ErrTableNotEmpty        = errors.New("table not empty")
	ErrScopeConflict        = errors.New("scope conflicts with a live shard")
	ErrRevisionNotMonotonic = errors.New("session revision must be strictly greater than the current revision")
	ErrNoSession            = errors.New("no open session")
	ErrUndoHistory          = errors.New("revision can only be set with an empty undo history")
)

// SchemaResolver supplies the secondary-index kinds a table type declares.
// It is consumed at table-creation time only.
type SchemaResolver interface {
	SecondaryKinds(typeID uint16) ([]keys.Kind, error)
}

// ScopeID identifies a scope partition: the owning code account plus the
// 64-bit scope tag.
type ScopeID struct {
	Code  uint64
	Scope uint64
}

func (id ScopeID) less(other ScopeID) bool {
	if id.Code != other.Code {
		return id.Code < other.Code
	}
	return id.Scope < other.Scope
}

// Scope is a named partition holding tables.
type Scope struct {
	ID     ScopeID
	tables *btree.BTreeG[*table.Table]
}

func newScope(id ScopeID) *Scope {
	return &Scope{
		ID: id,
		tables: btree.NewBTreeGOptions(func(a, b *table.Table) bool {
			return a.Name < b.Name
		}, btree.Options{NoLocks: true}),
	}
}

func (s *Scope) findTable(name uint64) (*table.Table, bool) {
	return s.tables.Get(&table.Table{Name: name})
}

func (s *Scope) deleteTable(name uint64) {
	s.tables.Delete(&table.Table{Name: name})
}

func (s *Scope) tableCount() int {
	return s.tables.Len()
}

// Tables walks the scope's tables in name order.
func (s *Scope) Tables(fn func(t *table.Table) bool) {
	s.tables.Scan(fn)
}

// Config holds database construction options.
type Config struct {
	Arena  *arena.Config
	Logger *logging.Logger
}

// Database is the top-level handle for the state store.
type Database struct {
	mu sync.RWMutex

	ar       *arena.Arena
	resolver SchemaResolver
	log      *logging.Logger

	scopes   *btree.BTreeG[*Scope]
	undo     []*undoState
	revision uint64
}

// New creates an empty database. The resolver decides which secondary
// containers a table of a given type owns.
func New(resolver SchemaResolver, cfg *Config) *Database {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault().Component("database")
	}
	return &Database{
		ar:       arena.New(cfg.Arena),
		resolver: resolver,
		log:      logger,
		scopes: btree.NewBTreeGOptions(func(a, b *Scope) bool {
			return a.ID.less(b.ID)
		}, btree.Options{NoLocks: true}),
	}
}

// Arena exposes the backing arena (sizing, snapshots).
func (db *Database) Arena() *arena.Arena {
	return db.ar
}

// Revision returns the current top revision.
func (db *Database) Revision() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.revision
}

// SetRevision seeds the revision counter. It is only legal with an empty
// undo history, typically right after UndoAll on startup.
func (db *Database) SetRevision(revision uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.undo) != 0 {
		return ErrUndoHistory
	}
	db.revision = revision
	return nil
}

// FindScope returns the scope for id, or nil.
func (db *Database) FindScope(id ScopeID) *Scope {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.findScope(id)
}

// GetScope returns the scope for id or ErrUnknownScope.
func (db *Database) GetScope(id ScopeID) (*Scope, error) {
	if s := db.FindScope(id); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %d/%d", ErrUnknownScope, id.Code, id.Scope)
}

// Scopes walks all scopes in (code, scope) order.
func (db *Database) Scopes(fn func(s *Scope) bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	db.scopes.Scan(fn)
}

func (db *Database) findScope(id ScopeID) *Scope {
	s, ok := db.scopes.Get(&Scope{ID: id})
	if !ok {
		return nil
	}
	return s
}

func (db *Database) deleteScope(id ScopeID) {
	db.scopes.Delete(&Scope{ID: id})
}

// createScope registers a scope and logs it to the live undo state.
func (db *Database) createScope(us *undoState, id ScopeID) (*Scope, error) {
	if db.findScope(id) != nil {
		return nil, fmt.Errorf("%w: %d/%d", ErrScopeExists, id.Code, id.Scope)
	}
	s := newScope(id)
	db.scopes.Set(s)
	us.scopeCreated(id)
	db.log.Debug("scope created", "code", id.Code, "scope", id.Scope)
	return s, nil
}

// createTable builds a table inside scope and logs it to the shard record.
func (db *Database) createTable(su *shardUndo, scope *Scope, name uint64, typeID uint16) (*table.Table, error) {
	if _, ok := scope.findTable(name); ok {
		return nil, fmt.Errorf("%w: %d in scope %d/%d", ErrTableExists, name, scope.ID.Code, scope.ID.Scope)
	}
	kinds, err := db.resolver.SecondaryKinds(typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table type %d: %w", typeID, err)
	}
	t, err := table.New(name, typeID, kinds, db.ar)
	if err != nil {
		return nil, err
	}
	scope.tables.Set(t)
	su.tableCreated(tableRef{Scope: scope.ID, Table: name, TypeID: typeID})
	db.log.Debug("table created", "scope", scope.ID.Scope, "table", name, "type", typeID)
	return t, nil
}

// recreateTable rebuilds a table dropped earlier in the revision being
// undone. It is only called from undo replay.
func (db *Database) recreateTable(ref tableRef) (*table.Table, error) {
	scope := db.findScope(ref.Scope)
	if scope == nil {
		return nil, fmt.Errorf("%w: %d/%d", ErrUnknownScope, ref.Scope.Code, ref.Scope.Scope)
	}
	kinds, err := db.resolver.SecondaryKinds(ref.TypeID)
	if err != nil {
		return nil, err
	}
	t, err := table.New(ref.Table, ref.TypeID, kinds, db.ar)
	if err != nil {
		return nil, err
	}
	scope.tables.Set(t)
	return t, nil
}

// topState returns the live (unclosed) top undo state, if any.
func (db *Database) topState() *undoState {
	if len(db.undo) == 0 {
		return nil
	}
	return db.undo[len(db.undo)-1]
}

// popState applies and discards the top undo state.
func (db *Database) popState() {
	us := db.topState()
	if us == nil {
		return
	}
	db.apply(us)
	db.undo = db.undo[:len(db.undo)-1]
	db.revision = us.prevRevision
}

// CommitRevision makes every revision up to and including r permanent by
// dropping its undo state.
func (db *Database) CommitRevision(r uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for n < len(db.undo) && db.undo[n].revision <= r {
		n++
	}
	if n > 0 {
		db.log.Debug("revisions committed", "through", db.undo[n-1].revision)
	}
	db.undo = db.undo[n:]
}

// UndoAll unwinds the entire undo stack.
func (db *Database) UndoAll() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for len(db.undo) > 0 {
		db.popState()
	}
}
