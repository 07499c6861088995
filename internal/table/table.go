// Package table implements the ordered containers backing a state-store
// table: one primary index keyed by u64 plus up to five secondary indexes
// keyed by (typed secondary key, primary key).
package table

import (
	"errors"
	"fmt"

	"github.com/tidwall/btree"

	"github.com/klingon-exchange/chaindb/internal/arena"
	"github.com/klingon-exchange/chaindb/internal/keys"
)

// Table errors.
var (
	ErrDuplicateKey      = errors.New("duplicate primary key")
	ErrDuplicatePrimary  = errors.New("primary key already present in secondary index")
	ErrPrimaryKeyChanged = errors.New("modify may not change the primary key")
	ErrRowMissing        = errors.New("row not found")
	ErrIteratorExhausted = errors.New("iterator exhausted")
)

// MaxSecondaryIndexes bounds the number of secondary indexes per table.
const MaxSecondaryIndexes = 5

// Row is a primary-index record. The payload lives in the arena; the row
// holds only its offset so rows stay valid across region growth.
type Row struct {
	Primary uint64
	Payer   uint64

	payloadOff  uint64
	payloadSize uint32
}

// Size returns the payload size in bytes.
func (r *Row) Size() uint32 {
	return r.payloadSize
}

// Table is an ordered map from primary key to row, plus secondary indexes.
type Table struct {
	Name   uint64
	TypeID uint16

	ar          *arena.Arena
	primary     *btree.BTreeG[*Row]
	secondaries []*SecondaryIndex
}

// New creates an empty table with one secondary index per kind.
func New(name uint64, typeID uint16, kinds []keys.Kind, ar *arena.Arena) (*Table, error) {
	if len(kinds) > MaxSecondaryIndexes {
		return nil, fmt.Errorf("table %d declares %d secondary indexes, max %d", name, len(kinds), MaxSecondaryIndexes)
	}
	t := &Table{
		Name:   name,
		TypeID: typeID,
		ar:     ar,
		primary: btree.NewBTreeGOptions(func(a, b *Row) bool {
			return a.Primary < b.Primary
		}, btree.Options{NoLocks: true}),
	}
	for _, k := range kinds {
		t.secondaries = append(t.secondaries, newSecondaryIndex(k))
	}
	return t, nil
}

// Len returns the number of rows in the primary index.
func (t *Table) Len() int {
	return t.primary.Len()
}

// SecondaryCount returns the number of secondary indexes.
func (t *Table) SecondaryCount() int {
	return len(t.secondaries)
}

// Secondary returns the secondary index at slot, or nil if out of range.
func (t *Table) Secondary(slot int) *SecondaryIndex {
	if slot < 0 || slot >= len(t.secondaries) {
		return nil
	}
	return t.secondaries[slot]
}

// Emplace inserts a new row. The payload is copied into the arena.
func (t *Table) Emplace(primary, payer uint64, payload []byte) error {
	if _, ok := t.primary.Get(&Row{Primary: primary}); ok {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, primary)
	}
	off, err := t.writePayload(payload)
	if err != nil {
		return err
	}
	t.primary.Set(&Row{
		Primary:     primary,
		Payer:       payer,
		payloadOff:  off,
		payloadSize: uint32(len(payload)),
	})
	return nil
}

// Update replaces the payer and payload of an existing row in place.
// The primary key is fixed by the lookup and cannot change.
func (t *Table) Update(primary, payer uint64, payload []byte) error {
	row, ok := t.primary.Get(&Row{Primary: primary})
	if !ok {
		return fmt.Errorf("%w: %d", ErrRowMissing, primary)
	}
	off, err := t.writePayload(payload)
	if err != nil {
		return err
	}
	t.freePayload(row)
	row.Payer = payer
	row.payloadOff = off
	row.payloadSize = uint32(len(payload))
	return nil
}

// Replace applies a full row image at the iterator's position. Changing
// the primary key through Replace is illegal.
func (t *Table) Replace(it Iterator, payer uint64, primary uint64, payload []byte) error {
	row := it.Row()
	if row == nil {
		return ErrIteratorExhausted
	}
	if primary != row.Primary {
		return fmt.Errorf("%w: %d -> %d", ErrPrimaryKeyChanged, row.Primary, primary)
	}
	return t.Update(row.Primary, payer, payload)
}

// Remove erases the row and every secondary entry referring to it.
func (t *Table) Remove(primary uint64) error {
	row, ok := t.primary.Get(&Row{Primary: primary})
	if !ok {
		return fmt.Errorf("%w: %d", ErrRowMissing, primary)
	}
	t.freePayload(row)
	t.primary.Delete(row)
	for _, idx := range t.secondaries {
		idx.remove(primary)
	}
	return nil
}

// Payload returns the payload bytes of row. The slice aliases the arena;
// callers that keep it across mutations must copy.
func (t *Table) Payload(row *Row) []byte {
	if row.payloadSize == 0 {
		return nil
	}
	b, err := t.ar.Bytes(row.payloadOff, uint64(row.payloadSize))
	if err != nil {
		// A row holding a bad offset means the arena was corrupted out
		// from under us; there is no recovery path.
		panic(fmt.Sprintf("table %d: row %d payload unreadable: %v", t.Name, row.Primary, err))
	}
	return b
}

// Scan walks rows in ascending primary-key order.
func (t *Table) Scan(fn func(r *Row) bool) {
	t.primary.Scan(fn)
}

// PayloadRef returns the arena offset and size of row's payload. Used by
// snapshot serialization, which stores base-relative offsets.
func (t *Table) PayloadRef(row *Row) (uint64, uint32) {
	return row.payloadOff, row.payloadSize
}

// RestoreRow links a row to a payload cell that already lives in the
// arena. Only snapshot load uses this; the cell must have been allocated
// by the arena the snapshot was taken from.
func (t *Table) RestoreRow(primary, payer, off uint64, size uint32) error {
	if _, ok := t.primary.Get(&Row{Primary: primary}); ok {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, primary)
	}
	t.primary.Set(&Row{
		Primary:     primary,
		Payer:       payer,
		payloadOff:  off,
		payloadSize: size,
	})
	return nil
}

func (t *Table) writePayload(payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	off, err := t.ar.Allocate(uint64(len(payload)))
	if err != nil {
		return 0, err
	}
	dst, err := t.ar.Bytes(off, uint64(len(payload)))
	if err != nil {
		return 0, err
	}
	copy(dst, payload)
	return off, nil
}

func (t *Table) freePayload(row *Row) {
	if row.payloadSize == 0 {
		return
	}
	// Deallocate only fails on offsets the arena never handed out.
	if err := t.ar.Deallocate(row.payloadOff); err != nil {
		panic(fmt.Sprintf("table %d: row %d payload free failed: %v", t.Name, row.Primary, err))
	}
}
