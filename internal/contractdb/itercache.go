package contractdb

import (
	"fmt"
)

// tableKey names a table as contracts see it.
type tableKey struct {
	code  uint64
	scope uint64
	table uint64
}

// rowRef identifies a cached position: a primary key within a table.
type rowRef struct {
	table   int32
	primary uint64
}

// iterItem is one cached iterator position. The position key (primary,
// and the canonical secondary for index caches) is kept even after the
// referenced entry is erased, so Next/Previous can still step from the
// former position.
type iterItem struct {
	table   int32
	primary uint64
	sec     []byte // canonical secondary key; nil in the primary cache
	erased  bool
}

// iterCache converts container positions into small stable int32 handles.
//
// Handles are allocated sequentially from 0 and never change meaning for
// the life of the execution context. End iterators are encoded per table
// as -(tableIndex + 2); -1 is the generic "no such element".
type iterCache struct {
	tables   []tableKey
	tableIdx map[tableKey]int32

	items []iterItem
	byRow map[rowRef]int32
}

func newIterCache() *iterCache {
	return &iterCache{
		tableIdx: make(map[tableKey]int32),
		byRow:    make(map[rowRef]int32),
	}
}

// cacheTable returns the end-iterator handle for key, assigning a table
// index on first sight. Repeated calls with the same key return the same
// handle.
func (c *iterCache) cacheTable(key tableKey) int32 {
	if idx, ok := c.tableIdx[key]; ok {
		return -(idx + 2)
	}
	idx := int32(len(c.tables))
	c.tables = append(c.tables, key)
	c.tableIdx[key] = idx
	return -(idx + 2)
}

// tableForEnd resolves an end-iterator handle back to its table key.
func (c *iterCache) tableForEnd(itr int32) (tableKey, bool) {
	if itr > -2 {
		return tableKey{}, false
	}
	idx := -itr - 2
	if int(idx) >= len(c.tables) {
		return tableKey{}, false
	}
	return c.tables[idx], true
}

// keyOf returns the table key for a cached item.
func (c *iterCache) keyOf(item *iterItem) tableKey {
	return c.tables[item.table]
}

// add caches a live position and returns its handle, reusing the handle
// already issued for the same row unless that handle is erased.
func (c *iterCache) add(key tableKey, primary uint64, sec []byte) int32 {
	c.cacheTable(key) // ensure the table index exists
	tidx := c.tableIdx[key]
	ref := rowRef{table: tidx, primary: primary}
	if h, ok := c.byRow[ref]; ok && !c.items[h].erased {
		if sec != nil {
			c.items[h].sec = append(c.items[h].sec[:0], sec...)
		}
		return h
	}
	h := int32(len(c.items))
	item := iterItem{table: tidx, primary: primary}
	if sec != nil {
		item.sec = append([]byte(nil), sec...)
	}
	c.items = append(c.items, item)
	c.byRow[ref] = h
	return h
}

// get returns the cached item for a positive handle.
func (c *iterCache) get(itr int32) (*iterItem, error) {
	if itr < 0 || int(itr) >= len(c.items) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterator, itr)
	}
	return &c.items[itr], nil
}

// markErased flags the handle for primary within a table, if one exists.
// The stored position key survives so the handle can still navigate.
func (c *iterCache) markErased(key tableKey, primary uint64) {
	tidx, ok := c.tableIdx[key]
	if !ok {
		return
	}
	if h, ok := c.byRow[rowRef{table: tidx, primary: primary}]; ok {
		c.items[h].erased = true
	}
}
