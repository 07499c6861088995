package database

import (
	"fmt"

	"github.com/klingon-exchange/chaindb/internal/table"
)

// rowKey identifies one primary row across the whole store.
type rowKey struct {
	Scope   ScopeID
	Table   uint64
	Primary uint64
}

// secImage is the prior state of one secondary-index slot for a row.
type secImage struct {
	Present bool
	Sec     []byte
	Payer   uint64
}

// rowImage is the full prior state of a row: primary presence, payload and
// every secondary slot. Images are absolute, so replaying one restores the
// row no matter what happened to it afterwards.
type rowImage struct {
	RowPresent bool
	Payer      uint64
	Payload    []byte
	Secondary  []secImage
}

// rowUndo is one first-touch journal entry.
type rowUndo struct {
	Key   rowKey
	Image rowImage
}

// tableRef names a table for creation/removal tracking.
type tableRef struct {
	Scope  ScopeID
	Table  uint64
	TypeID uint16
}

// shardUndo records everything one shard changed within a revision.
type shardUndo struct {
	writeScopes []uint64
	readScopes  []uint64

	newTables     []tableRef
	removedTables []tableRef

	rows    []rowUndo
	touched map[rowKey]int // rowKey -> index into rows
}

func newShardUndo(writeScopes, readScopes []uint64) *shardUndo {
	return &shardUndo{
		writeScopes: append([]uint64(nil), writeScopes...),
		readScopes:  append([]uint64(nil), readScopes...),
		touched:     make(map[rowKey]int),
	}
}

// touchRow captures the current state of key the first time the shard
// mutates it within this revision. Later touches are no-ops: the journal
// keeps only the image that existed when the revision opened.
func (su *shardUndo) touchRow(t *table.Table, key rowKey) {
	if _, ok := su.touched[key]; ok {
		return
	}
	su.touched[key] = len(su.rows)
	su.rows = append(su.rows, rowUndo{Key: key, Image: captureImage(t, key.Primary)})
}

// tableCreated logs a table birth so undo can drop it.
func (su *shardUndo) tableCreated(ref tableRef) {
	su.newTables = append(su.newTables, ref)
}

// tableRemoved logs a table removal. A remove of a table born in the same
// revision cancels the birth instead.
func (su *shardUndo) tableRemoved(ref tableRef) {
	for i, nt := range su.newTables {
		if nt.Scope == ref.Scope && nt.Table == ref.Table {
			su.newTables = append(su.newTables[:i], su.newTables[i+1:]...)
			return
		}
	}
	su.removedTables = append(su.removedTables, ref)
}

// captureImage snapshots a row and its secondary entries. A nil table or
// missing row yields an absent image.
func captureImage(t *table.Table, primary uint64) rowImage {
	img := rowImage{}
	if t == nil {
		return img
	}
	img.Secondary = make([]secImage, t.SecondaryCount())
	if it, ok := t.Find(primary); ok {
		row := it.Row()
		img.RowPresent = true
		img.Payer = row.Payer
		img.Payload = append([]byte(nil), t.Payload(row)...)
	}
	for slot := 0; slot < t.SecondaryCount(); slot++ {
		if e, ok := t.Secondary(slot).FindPrimary(primary); ok {
			img.Secondary[slot] = secImage{
				Present: true,
				Sec:     append([]byte(nil), e.Sec...),
				Payer:   e.Payer,
			}
		}
	}
	return img
}

// restoreImage forces the row named by key back to img. A failure here
// means the store is corrupt; per the recovery contract that is fatal.
func (db *Database) restoreImage(key rowKey, img rowImage) {
	scope := db.findScope(key.Scope)
	var t *table.Table
	if scope != nil {
		t, _ = scope.findTable(key.Table)
	}
	if t == nil {
		if img.RowPresent {
			panic(fmt.Sprintf("undo: table %d/%d missing while restoring row %d",
				key.Scope.Scope, key.Table, key.Primary))
		}
		// Row was created inside a table that has since been dropped;
		// nothing to do.
		return
	}

	// Clear whatever state the key has now.
	for slot := 0; slot < t.SecondaryCount(); slot++ {
		if _, ok := t.Secondary(slot).FindPrimary(key.Primary); ok {
			if err := t.Secondary(slot).Remove(key.Primary); err != nil {
				panic(fmt.Sprintf("undo: clearing secondary %d for row %d: %v", slot, key.Primary, err))
			}
		}
	}
	if _, ok := t.Find(key.Primary); ok {
		if err := t.Remove(key.Primary); err != nil {
			panic(fmt.Sprintf("undo: removing row %d: %v", key.Primary, err))
		}
	}

	// Re-apply the prior state.
	if img.RowPresent {
		if err := t.Emplace(key.Primary, img.Payer, img.Payload); err != nil {
			panic(fmt.Sprintf("undo: restoring row %d: %v", key.Primary, err))
		}
	}
	for slot, sec := range img.Secondary {
		if !sec.Present {
			continue
		}
		if err := t.Secondary(slot).Store(key.Primary, sec.Sec, sec.Payer); err != nil {
			panic(fmt.Sprintf("undo: restoring secondary %d for row %d: %v", slot, key.Primary, err))
		}
	}
}

// undoState is the per-revision record: scope births plus one shardUndo
// per shard started in the revision.
type undoState struct {
	revision     uint64
	prevRevision uint64 // revision in force before this state opened
	newScopes    []ScopeID
	shards       []*shardUndo

	writeClaims map[uint64]*shardUndo
	readClaims  map[uint64]int

	closed bool
}

func newUndoState(revision uint64) *undoState {
	return &undoState{
		revision:    revision,
		writeClaims: make(map[uint64]*shardUndo),
		readClaims:  make(map[uint64]int),
	}
}

// scopeCreated logs a scope birth so undo can drop it.
func (us *undoState) scopeCreated(id ScopeID) {
	us.newScopes = append(us.newScopes, id)
}

// apply replays the state's inverses: per shard, removed tables are
// re-created, row images restored in reverse journal order and created
// tables dropped; finally scope births are dropped. Shard order is free
// because shards never share write scopes.
func (db *Database) apply(us *undoState) {
	for _, su := range us.shards {
		for i := len(su.removedTables) - 1; i >= 0; i-- {
			ref := su.removedTables[i]
			if _, err := db.recreateTable(ref); err != nil {
				panic(fmt.Sprintf("undo: recreating table %d/%d: %v", ref.Scope.Scope, ref.Table, err))
			}
		}
		for i := len(su.rows) - 1; i >= 0; i-- {
			db.restoreImage(su.rows[i].Key, su.rows[i].Image)
		}
		for i := len(su.newTables) - 1; i >= 0; i-- {
			ref := su.newTables[i]
			scope := db.findScope(ref.Scope)
			if scope == nil {
				panic(fmt.Sprintf("undo: scope %d missing while dropping table %d", ref.Scope.Scope, ref.Table))
			}
			t, ok := scope.findTable(ref.Table)
			if !ok {
				panic(fmt.Sprintf("undo: table %d/%d already gone", ref.Scope.Scope, ref.Table))
			}
			if t.Len() != 0 {
				panic(fmt.Sprintf("undo: dropping non-empty table %d/%d", ref.Scope.Scope, ref.Table))
			}
			scope.deleteTable(ref.Table)
		}
	}
	for i := len(us.newScopes) - 1; i >= 0; i-- {
		id := us.newScopes[i]
		scope := db.findScope(id)
		if scope == nil {
			continue
		}
		if scope.tableCount() != 0 {
			panic(fmt.Sprintf("undo: dropping non-empty scope %d", id.Scope))
		}
		db.deleteScope(id)
	}
}

// squashInto merges a younger undo state (us) into its elder (dst). The
// elder's first-touch images win; births and removals reconcile pairwise
// so a create-then-remove leaves no trace.
func (us *undoState) squashInto(dst *undoState) {
	for _, su := range us.shards {
		target := dst.claimOwner(su)
		if target == nil {
			dst.shards = append(dst.shards, su)
			for _, ws := range su.writeScopes {
				dst.writeClaims[ws] = su
			}
			continue
		}
		target.merge(su)
		for _, ws := range su.writeScopes {
			if dst.writeClaims[ws] == nil {
				dst.writeClaims[ws] = target
				target.writeScopes = append(target.writeScopes, ws)
			}
		}
	}
	dst.newScopes = append(dst.newScopes, us.newScopes...)
}

// claimOwner returns the elder shard record sharing a write scope with su,
// if any.
func (us *undoState) claimOwner(su *shardUndo) *shardUndo {
	for _, ws := range su.writeScopes {
		if owner, ok := us.writeClaims[ws]; ok {
			return owner
		}
	}
	return nil
}

// merge folds a younger shard record into an elder one.
func (su *shardUndo) merge(younger *shardUndo) {
	for _, ref := range younger.newTables {
		if !su.cancelRemoved(ref) {
			su.newTables = append(su.newTables, ref)
		}
	}
	for _, ref := range younger.removedTables {
		if !su.cancelNew(ref) {
			su.removedTables = append(su.removedTables, ref)
		}
	}
	for _, ru := range younger.rows {
		if _, ok := su.touched[ru.Key]; ok {
			continue // elder image is the true prior
		}
		su.touched[ru.Key] = len(su.rows)
		su.rows = append(su.rows, ru)
	}
}

func (su *shardUndo) cancelRemoved(ref tableRef) bool {
	for i, r := range su.removedTables {
		if r.Scope == ref.Scope && r.Table == ref.Table {
			su.removedTables = append(su.removedTables[:i], su.removedTables[i+1:]...)
			return true
		}
	}
	return false
}

func (su *shardUndo) cancelNew(ref tableRef) bool {
	for i, r := range su.newTables {
		if r.Scope == ref.Scope && r.Table == ref.Table {
			su.newTables = append(su.newTables[:i], su.newTables[i+1:]...)
			return true
		}
	}
	return false
}
