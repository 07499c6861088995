package database

import (
	"fmt"

	"github.com/klingon-exchange/chaindb/internal/table"
)

// Shard is a live, mutating claim on a disjoint set of scopes within a
// session. Every mutation flows through the shard so its undo record sees
// the prior state first.
//
// A shard is single-writer; shards of the same revision never share write
// scopes, so any interleaving of their mutations yields the same final
// state. Row mutations allocate from the database's shared arena without
// taking a lock, so mutations of different shards are not safe to run
// from concurrent goroutines.
type Shard struct {
	db      *Database
	session *Session
	state   *shardUndo
}

// writable reports whether the shard claimed scope for writing.
func (sh *Shard) writable(scope uint64) bool {
	for _, ws := range sh.state.writeScopes {
		if ws == scope {
			return true
		}
	}
	return false
}

func (sh *Shard) checkWrite(id ScopeID) error {
	if !sh.writable(id.Scope) {
		return fmt.Errorf("%w: scope %d is outside this shard's write set", ErrScopeConflict, id.Scope)
	}
	return nil
}

// CreateScope registers a scope from within the shard. The scope must be
// part of the shard's write set; the creation is logged at session level.
func (sh *Shard) CreateScope(id ScopeID) (*Scope, error) {
	if err := sh.checkWrite(id); err != nil {
		return nil, err
	}
	sh.db.mu.Lock()
	defer sh.db.mu.Unlock()
	return sh.db.createScope(sh.session.state, id)
}

// FindScope returns the scope for id, or nil.
func (sh *Shard) FindScope(id ScopeID) *Scope {
	return sh.db.FindScope(id)
}

// CreateTable builds a new table. Its secondary containers follow the
// resolver's schema for typeID.
func (sh *Shard) CreateTable(id ScopeID, name uint64, typeID uint16) (*table.Table, error) {
	if err := sh.checkWrite(id); err != nil {
		return nil, err
	}
	sh.db.mu.Lock()
	defer sh.db.mu.Unlock()
	scope := sh.db.findScope(id)
	if scope == nil {
		return nil, fmt.Errorf("%w: %d/%d", ErrUnknownScope, id.Code, id.Scope)
	}
	return sh.db.createTable(sh.state, scope, name, typeID)
}

// FindTable resolves a table within the shard's visible scopes.
func (sh *Shard) FindTable(id ScopeID, name uint64) (*table.Table, error) {
	scope := sh.db.FindScope(id)
	if scope == nil {
		return nil, fmt.Errorf("%w: %d/%d", ErrUnknownScope, id.Code, id.Scope)
	}
	t, ok := scope.findTable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %d in scope %d/%d", ErrUnknownTable, name, id.Code, id.Scope)
	}
	return t, nil
}

// RemoveTable drops an empty table, recording the removal so undo can
// rebuild it.
func (sh *Shard) RemoveTable(id ScopeID, name uint64) error {
	if err := sh.checkWrite(id); err != nil {
		return err
	}
	sh.db.mu.Lock()
	defer sh.db.mu.Unlock()
	scope := sh.db.findScope(id)
	if scope == nil {
		return fmt.Errorf("%w: %d/%d", ErrUnknownScope, id.Code, id.Scope)
	}
	t, ok := scope.findTable(name)
	if !ok {
		return fmt.Errorf("%w: %d in scope %d/%d", ErrUnknownTable, name, id.Code, id.Scope)
	}
	if t.Len() != 0 {
		return fmt.Errorf("%w: %d in scope %d/%d", ErrTableNotEmpty, name, id.Code, id.Scope)
	}
	scope.deleteTable(name)
	sh.state.tableRemoved(tableRef{Scope: id, Table: name, TypeID: t.TypeID})
	return nil
}

// mutableTable resolves a table for mutation, verifying the write claim.
func (sh *Shard) mutableTable(id ScopeID, name uint64) (*table.Table, error) {
	if err := sh.checkWrite(id); err != nil {
		return nil, err
	}
	return sh.FindTable(id, name)
}

// EmplaceRow inserts a new row, journaling its absence first.
func (sh *Shard) EmplaceRow(id ScopeID, tbl, primary, payer uint64, payload []byte) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return t.Emplace(primary, payer, payload)
}

// UpdateRow replaces a row's payer and payload in place.
func (sh *Shard) UpdateRow(id ScopeID, tbl, primary, payer uint64, payload []byte) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return t.Update(primary, payer, payload)
}

// RemoveRow erases a row and all its secondary entries.
func (sh *Shard) RemoveRow(id ScopeID, tbl, primary uint64) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return t.Remove(primary)
}

// StoreSecondary adds a secondary entry for primary in the given slot.
func (sh *Shard) StoreSecondary(id ScopeID, tbl uint64, slot int, primary uint64, sec []byte, payer uint64) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	idx := t.Secondary(slot)
	if idx == nil {
		return fmt.Errorf("%w: table %d has no secondary index %d", ErrUnknownTable, tbl, slot)
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return idx.Store(primary, sec, payer)
}

// UpdateSecondary repositions primary's entry under a new secondary key.
func (sh *Shard) UpdateSecondary(id ScopeID, tbl uint64, slot int, primary uint64, sec []byte, payer uint64) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	idx := t.Secondary(slot)
	if idx == nil {
		return fmt.Errorf("%w: table %d has no secondary index %d", ErrUnknownTable, tbl, slot)
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return idx.Update(primary, payer, sec)
}

// RemoveSecondary erases primary's entry from the given slot.
func (sh *Shard) RemoveSecondary(id ScopeID, tbl uint64, slot int, primary uint64) error {
	t, err := sh.mutableTable(id, tbl)
	if err != nil {
		return err
	}
	idx := t.Secondary(slot)
	if idx == nil {
		return fmt.Errorf("%w: table %d has no secondary index %d", ErrUnknownTable, tbl, slot)
	}
	sh.state.touchRow(t, rowKey{Scope: id, Table: tbl, Primary: primary})
	return idx.Remove(primary)
}
