package contractdb

import (
	"fmt"

	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/table"
)

// StoreI64 inserts a row into the receiver's (scope, table), creating the
// scope and table on first use, and returns a handle to the new row.
func (c *Context) StoreI64(scope, tbl, payer, id uint64, payload []byte) (int32, error) {
	if payer == 0 {
		return EndIterator, ErrBadPayer
	}
	if _, err := c.writableTable(scope, tbl); err != nil {
		return EndIterator, err
	}
	sid := database.ScopeID{Code: c.receiver, Scope: scope}
	if err := c.shard.EmplaceRow(sid, tbl, id, payer, payload); err != nil {
		return EndIterator, err
	}
	key := tableKey{code: c.receiver, scope: scope, table: tbl}
	return c.primary.add(key, id, nil), nil
}

// UpdateI64 replaces the payload of the row behind itr. A zero payer
// keeps the current one.
func (c *Context) UpdateI64(itr int32, payer uint64, payload []byte) error {
	item, err := c.primary.get(itr)
	if err != nil {
		return err
	}
	if item.erased {
		return ErrIteratorErased
	}
	key := c.primary.keyOf(item)
	if err := c.checkOwned(key); err != nil {
		return err
	}
	t := c.findTable(key)
	if t == nil {
		return fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	if payer == 0 {
		if it, ok := t.Find(item.primary); ok {
			payer = it.Row().Payer
		}
	}
	sid := database.ScopeID{Code: key.code, Scope: key.scope}
	return c.shard.UpdateRow(sid, key.table, item.primary, payer, payload)
}

// RemoveI64 erases the row behind itr and every secondary entry that
// refers to it. The handle stays navigable but Get on it fails. A table
// whose last row goes away is dropped.
func (c *Context) RemoveI64(itr int32) error {
	item, err := c.primary.get(itr)
	if err != nil {
		return err
	}
	if item.erased {
		return ErrIteratorErased
	}
	key := c.primary.keyOf(item)
	if err := c.checkOwned(key); err != nil {
		return err
	}
	t := c.findTable(key)
	if t == nil {
		return fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	sid := database.ScopeID{Code: key.code, Scope: key.scope}
	if err := c.shard.RemoveRow(sid, key.table, item.primary); err != nil {
		return err
	}

	// The row and all its index entries are gone; flag every cached
	// handle that referenced them.
	c.primary.markErased(key, item.primary)
	c.eraseSecondaryHandles(key, item.primary)

	return c.dropTableIfEmpty(key, t)
}

// eraseSecondaryHandles flags cached secondary iterators for a removed row.
func (c *Context) eraseSecondaryHandles(key tableKey, primary uint64) {
	c.Idx64.cache.markErased(key, primary)
	c.Idx128.cache.markErased(key, primary)
	c.Idx256.cache.markErased(key, primary)
	c.IdxF64.cache.markErased(key, primary)
	c.IdxF128.cache.markErased(key, primary)
}

// GetI64 copies the row payload into buf, up to len(buf) bytes, and
// returns the full payload size. A nil buf queries the size alone.
func (c *Context) GetI64(itr int32, buf []byte) (int, error) {
	item, err := c.primary.get(itr)
	if err != nil {
		return 0, err
	}
	if item.erased {
		return 0, ErrIteratorErased
	}
	key := c.primary.keyOf(item)
	t := c.findTable(key)
	if t == nil {
		return 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	it, ok := t.Find(item.primary)
	if !ok {
		return 0, fmt.Errorf("%w: row %d", ErrTableMissing, item.primary)
	}
	payload := t.Payload(it.Row())
	copy(buf, payload)
	return len(payload), nil
}

// FindI64 returns a handle to the row with primary key id, the table's
// end iterator when the row is absent, or -1 when the table itself is
// unknown.
func (c *Context) FindI64(code, scope, tbl, id uint64) (int32, error) {
	key := tableKey{code: code, scope: scope, table: tbl}
	t := c.findTable(key)
	if t == nil {
		return EndIterator, nil
	}
	end := c.primary.cacheTable(key)
	if _, ok := t.Find(id); !ok {
		return end, nil
	}
	return c.primary.add(key, id, nil), nil
}

// LowerboundI64 returns a handle to the first row with key >= id.
func (c *Context) LowerboundI64(code, scope, tbl, id uint64) (int32, error) {
	return c.boundI64(code, scope, tbl, id, false)
}

// UpperboundI64 returns a handle to the first row with key > id.
func (c *Context) UpperboundI64(code, scope, tbl, id uint64) (int32, error) {
	return c.boundI64(code, scope, tbl, id, true)
}

func (c *Context) boundI64(code, scope, tbl, id uint64, strict bool) (int32, error) {
	key := tableKey{code: code, scope: scope, table: tbl}
	t := c.findTable(key)
	if t == nil {
		return EndIterator, nil
	}
	end := c.primary.cacheTable(key)
	var it table.Iterator
	if strict {
		it = t.UpperBound(id)
	} else {
		it = t.LowerBound(id)
	}
	if it.IsEnd() {
		return end, nil
	}
	return c.primary.add(key, it.Row().Primary, nil), nil
}

// EndI64 returns the end iterator for a table, or -1 when the table is
// unknown. Repeated calls with identical arguments return the same value.
func (c *Context) EndI64(code, scope, tbl uint64) (int32, error) {
	key := tableKey{code: code, scope: scope, table: tbl}
	if c.findTable(key) == nil {
		return EndIterator, nil
	}
	return c.primary.cacheTable(key), nil
}

// NextI64 advances itr and returns the next handle plus its primary key.
// Advancing any end iterator fails with the iterator-exhausted error.
func (c *Context) NextI64(itr int32) (int32, uint64, error) {
	if itr < 0 {
		return EndIterator, 0, table.ErrIteratorExhausted
	}
	item, err := c.primary.get(itr)
	if err != nil {
		return EndIterator, 0, err
	}
	key := c.primary.keyOf(item)
	t := c.findTable(key)
	if t == nil {
		return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	// Stepping works from an erased position too: the cache still holds
	// the former key.
	row, ok := t.NextAfter(item.primary)
	if !ok {
		return c.primary.cacheTable(key), 0, nil
	}
	return c.primary.add(key, row.Primary, nil), row.Primary, nil
}

// PreviousI64 steps itr back and returns the previous handle plus its
// primary key. Stepping back from a table's end iterator yields its last
// row; stepping back from the first row returns -1.
func (c *Context) PreviousI64(itr int32) (int32, uint64, error) {
	if itr < 0 {
		key, ok := c.primary.tableForEnd(itr)
		if !ok {
			return EndIterator, 0, fmt.Errorf("%w: %d", ErrInvalidIterator, itr)
		}
		t := c.findTable(key)
		if t == nil {
			return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
		}
		last := t.Last()
		if last.IsEnd() {
			return EndIterator, 0, nil
		}
		return c.primary.add(key, last.Row().Primary, nil), last.Row().Primary, nil
	}
	item, err := c.primary.get(itr)
	if err != nil {
		return EndIterator, 0, err
	}
	key := c.primary.keyOf(item)
	t := c.findTable(key)
	if t == nil {
		return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	row, ok := t.PreviousBefore(item.primary)
	if !ok {
		return EndIterator, 0, nil
	}
	return c.primary.add(key, row.Primary, nil), row.Primary, nil
}
