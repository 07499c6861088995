// Package contractdb is the backing-store façade exposed to contract
// code: handle-based iteration over primary rows and the five secondary
// index families (u64, u128, u256, f64, f128).
//
// Every contract-visible iterator is an int32. -1 is the generic "no such
// element"; other negative values encode per-table end iterators; handles
// from 0 up are allocated by the iterator cache and stay stable for the
// life of one execution context.
package contractdb

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
)

// Façade errors.
var (
	ErrTableMissing    = errors.New("table missing")
	ErrWrongKeyType    = errors.New("table does not declare a secondary index of this type")
	ErrIteratorErased  = errors.New("iterator references an erased row")
	ErrInvalidIterator = errors.New("invalid iterator handle")
	ErrBadPayer        = errors.New("payer account must be a valid account")
	ErrNotOwned        = errors.New("table belongs to another contract")
)

// EndIterator is the generic "no such element" handle.
const EndIterator int32 = -1

// TableTyper resolves a table's type id, deciding its secondary schema.
// The ABI registry implements this for deployed contracts.
type TableTyper interface {
	TypeOf(code, table uint64) (uint16, error)
}

// TableTyperFunc adapts a function to the TableTyper interface.
type TableTyperFunc func(code, table uint64) (uint16, error)

// TypeOf implements TableTyper.
func (f TableTyperFunc) TypeOf(code, table uint64) (uint16, error) {
	return f(code, table)
}

// Context is one contract execution against the store. Reads may target
// any contract's tables; writes always target the receiver's.
type Context struct {
	shard    *database.Shard
	receiver uint64
	types    TableTyper

	primary *iterCache

	// One façade family per secondary key kind.
	Idx64   *IdxFamily[uint64]
	Idx128  *IdxFamily[keys.Uint128]
	Idx256  *IdxFamily[*uint256.Int]
	IdxF64  *IdxFamily[float64]
	IdxF128 *IdxFamily[keys.Float128]
}

// NewContext builds a façade for one execution. All writes go through
// shard and are attributed to receiver's code account.
func NewContext(shard *database.Shard, receiver uint64, types TableTyper) *Context {
	ctx := &Context{
		shard:    shard,
		receiver: receiver,
		types:    types,
		primary:  newIterCache(),
	}
	ctx.Idx64 = newIdxFamily(ctx, keys.Uint64Codec)
	ctx.Idx128 = newIdxFamily(ctx, keys.Uint128Codec)
	ctx.Idx256 = newIdxFamily(ctx, keys.Uint256Codec)
	ctx.IdxF64 = newIdxFamily(ctx, keys.Float64Codec)
	ctx.IdxF128 = newIdxFamily(ctx, keys.Float128Codec)
	return ctx
}

// findTable resolves a table for reading; nil when absent.
func (c *Context) findTable(key tableKey) *table.Table {
	t, err := c.shard.FindTable(database.ScopeID{Code: key.code, Scope: key.scope}, key.table)
	if err != nil {
		return nil
	}
	return t
}

// writableTable resolves a table owned by the receiver for a store,
// creating the scope and table on first use.
func (c *Context) writableTable(scope, tbl uint64) (*table.Table, error) {
	id := database.ScopeID{Code: c.receiver, Scope: scope}
	t, err := c.shard.FindTable(id, tbl)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, database.ErrUnknownScope) {
		if _, err := c.shard.CreateScope(id); err != nil {
			return nil, err
		}
	}
	typeID, err := c.types.TypeOf(c.receiver, tbl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTableMissing, err)
	}
	return c.shard.CreateTable(id, tbl, typeID)
}

// dropTableIfEmpty removes a table whose last row just went away.
func (c *Context) dropTableIfEmpty(key tableKey, t *table.Table) error {
	if t.Len() != 0 {
		return nil
	}
	for slot := 0; slot < t.SecondaryCount(); slot++ {
		if t.Secondary(slot).Len() != 0 {
			return nil
		}
	}
	return c.shard.RemoveTable(database.ScopeID{Code: key.code, Scope: key.scope}, key.table)
}

// checkOwned verifies a mutation targets the receiver's own table.
func (c *Context) checkOwned(key tableKey) error {
	if key.code != c.receiver {
		return fmt.Errorf("%w: %d", ErrNotOwned, key.code)
	}
	return nil
}
