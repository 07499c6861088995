package contractdb

import (
	"fmt"

	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
)

// IdxFamily is the façade over one secondary-index kind. One instance per
// kind hangs off the Context (Idx64, Idx128, Idx256, IdxF64, IdxF128);
// all five share the implementation and differ only in codec.
type IdxFamily[K any] struct {
	ctx   *Context
	codec keys.Codec[K]
	cache *iterCache
}

func newIdxFamily[K any](ctx *Context, codec keys.Codec[K]) *IdxFamily[K] {
	return &IdxFamily[K]{ctx: ctx, codec: codec, cache: newIterCache()}
}

// slotFor locates the table's secondary index of this family's kind.
func (f *IdxFamily[K]) slotFor(t *table.Table) (int, error) {
	for slot := 0; slot < t.SecondaryCount(); slot++ {
		if t.Secondary(slot).Kind() == f.codec.Kind {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrWrongKeyType, f.codec.Kind)
}

// Store adds a secondary entry binding id to secondary in the receiver's
// (scope, table), creating scope and table on first use.
func (f *IdxFamily[K]) Store(scope, tbl, payer, id uint64, secondary K) (int32, error) {
	if payer == 0 {
		return EndIterator, ErrBadPayer
	}
	t, err := f.ctx.writableTable(scope, tbl)
	if err != nil {
		return EndIterator, err
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return EndIterator, err
	}
	sec := f.codec.Marshal(secondary)
	sid := database.ScopeID{Code: f.ctx.receiver, Scope: scope}
	if err := f.ctx.shard.StoreSecondary(sid, tbl, slot, id, sec, payer); err != nil {
		return EndIterator, err
	}
	key := tableKey{code: f.ctx.receiver, scope: scope, table: tbl}
	return f.cache.add(key, id, sec), nil
}

// Update repositions the entry behind itr under a new secondary value.
// A zero payer keeps the current one.
func (f *IdxFamily[K]) Update(itr int32, payer uint64, secondary K) error {
	item, err := f.cache.get(itr)
	if err != nil {
		return err
	}
	if item.erased {
		return ErrIteratorErased
	}
	key := f.cache.keyOf(item)
	if err := f.ctx.checkOwned(key); err != nil {
		return err
	}
	t := f.ctx.findTable(key)
	if t == nil {
		return fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return err
	}
	if payer == 0 {
		if e, ok := t.Secondary(slot).FindPrimary(item.primary); ok {
			payer = e.Payer
		}
	}
	sec := f.codec.Marshal(secondary)
	sid := database.ScopeID{Code: key.code, Scope: key.scope}
	if err := f.ctx.shard.UpdateSecondary(sid, key.table, slot, item.primary, sec, payer); err != nil {
		return err
	}
	item.sec = append(item.sec[:0], sec...)
	return nil
}

// Remove erases the entry behind itr from the index. The primary row is
// untouched.
func (f *IdxFamily[K]) Remove(itr int32) error {
	item, err := f.cache.get(itr)
	if err != nil {
		return err
	}
	if item.erased {
		return ErrIteratorErased
	}
	key := f.cache.keyOf(item)
	if err := f.ctx.checkOwned(key); err != nil {
		return err
	}
	t := f.ctx.findTable(key)
	if t == nil {
		return fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return err
	}
	sid := database.ScopeID{Code: key.code, Scope: key.scope}
	if err := f.ctx.shard.RemoveSecondary(sid, key.table, slot, item.primary); err != nil {
		return err
	}
	f.cache.markErased(key, item.primary)
	return f.ctx.dropTableIfEmpty(key, t)
}

// resolve finds the table and slot for a read.
func (f *IdxFamily[K]) resolve(code, scope, tbl uint64) (*table.Table, int, bool, error) {
	key := tableKey{code: code, scope: scope, table: tbl}
	t := f.ctx.findTable(key)
	if t == nil {
		return nil, 0, false, nil
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return nil, 0, false, err
	}
	return t, slot, true, nil
}

// FindSecondary returns a handle to the first entry with exactly the
// given secondary value, plus its primary key.
func (f *IdxFamily[K]) FindSecondary(code, scope, tbl uint64, secondary K) (int32, uint64, error) {
	t, slot, ok, err := f.resolve(code, scope, tbl)
	if err != nil || !ok {
		return EndIterator, 0, err
	}
	key := tableKey{code: code, scope: scope, table: tbl}
	end := f.cache.cacheTable(key)
	sec := f.codec.Marshal(secondary)
	e, found := t.Secondary(slot).FindSecondary(sec)
	if !found {
		return end, 0, nil
	}
	return f.cache.add(key, e.Primary, e.Sec), e.Primary, nil
}

// FindPrimary returns a handle to the entry keyed by primary, plus the
// secondary value it holds.
func (f *IdxFamily[K]) FindPrimary(code, scope, tbl, primary uint64) (int32, K, error) {
	var zero K
	t, slot, ok, err := f.resolve(code, scope, tbl)
	if err != nil || !ok {
		return EndIterator, zero, err
	}
	key := tableKey{code: code, scope: scope, table: tbl}
	end := f.cache.cacheTable(key)
	e, found := t.Secondary(slot).FindPrimary(primary)
	if !found {
		return end, zero, nil
	}
	return f.cache.add(key, e.Primary, e.Sec), f.codec.Unmarshal(e.Sec), nil
}

// LowerboundSecondary returns the first entry >= the given secondary
// value, with the value and primary key it landed on.
func (f *IdxFamily[K]) LowerboundSecondary(code, scope, tbl uint64, secondary K) (int32, K, uint64, error) {
	return f.bound(code, scope, tbl, secondary, false)
}

// UpperboundSecondary returns the first entry strictly greater than the
// given secondary value.
func (f *IdxFamily[K]) UpperboundSecondary(code, scope, tbl uint64, secondary K) (int32, K, uint64, error) {
	return f.bound(code, scope, tbl, secondary, true)
}

func (f *IdxFamily[K]) bound(code, scope, tbl uint64, secondary K, strict bool) (int32, K, uint64, error) {
	var zero K
	t, slot, ok, err := f.resolve(code, scope, tbl)
	if err != nil || !ok {
		return EndIterator, zero, 0, err
	}
	key := tableKey{code: code, scope: scope, table: tbl}
	end := f.cache.cacheTable(key)
	sec := f.codec.Marshal(secondary)
	var e *table.Entry
	var found bool
	if strict {
		e, found = t.Secondary(slot).UpperBound(sec)
	} else {
		e, found = t.Secondary(slot).LowerBound(sec, 0)
	}
	if !found {
		return end, zero, 0, nil
	}
	return f.cache.add(key, e.Primary, e.Sec), f.codec.Unmarshal(e.Sec), e.Primary, nil
}

// EndSecondary returns the index's end iterator, or -1 when the table is
// unknown.
func (f *IdxFamily[K]) EndSecondary(code, scope, tbl uint64) (int32, error) {
	key := tableKey{code: code, scope: scope, table: tbl}
	t := f.ctx.findTable(key)
	if t == nil {
		return EndIterator, nil
	}
	if _, err := f.slotFor(t); err != nil {
		return EndIterator, err
	}
	return f.cache.cacheTable(key), nil
}

// NextSecondary advances itr in (secondary, primary) order.
func (f *IdxFamily[K]) NextSecondary(itr int32) (int32, uint64, error) {
	if itr < 0 {
		return EndIterator, 0, table.ErrIteratorExhausted
	}
	item, err := f.cache.get(itr)
	if err != nil {
		return EndIterator, 0, err
	}
	key := f.cache.keyOf(item)
	t := f.ctx.findTable(key)
	if t == nil {
		return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return EndIterator, 0, err
	}
	e, ok := t.Secondary(slot).Next(item.sec, item.primary)
	if !ok {
		return f.cache.cacheTable(key), 0, nil
	}
	return f.cache.add(key, e.Primary, e.Sec), e.Primary, nil
}

// PreviousSecondary steps itr back; from an end iterator it yields the
// index's last entry.
func (f *IdxFamily[K]) PreviousSecondary(itr int32) (int32, uint64, error) {
	if itr < 0 {
		key, ok := f.cache.tableForEnd(itr)
		if !ok {
			return EndIterator, 0, fmt.Errorf("%w: %d", ErrInvalidIterator, itr)
		}
		t := f.ctx.findTable(key)
		if t == nil {
			return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
		}
		slot, err := f.slotFor(t)
		if err != nil {
			return EndIterator, 0, err
		}
		e, found := t.Secondary(slot).Last()
		if !found {
			return EndIterator, 0, nil
		}
		return f.cache.add(key, e.Primary, e.Sec), e.Primary, nil
	}
	item, err := f.cache.get(itr)
	if err != nil {
		return EndIterator, 0, err
	}
	key := f.cache.keyOf(item)
	t := f.ctx.findTable(key)
	if t == nil {
		return EndIterator, 0, fmt.Errorf("%w: %d/%d/%d", ErrTableMissing, key.code, key.scope, key.table)
	}
	slot, err := f.slotFor(t)
	if err != nil {
		return EndIterator, 0, err
	}
	e, ok := t.Secondary(slot).Previous(item.sec, item.primary)
	if !ok {
		return EndIterator, 0, nil
	}
	return f.cache.add(key, e.Primary, e.Sec), e.Primary, nil
}
