package database

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/klingon-exchange/chaindb/internal/arena"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
)

// ErrBadStateFile reports a corrupt or truncated database file.
var ErrBadStateFile = errors.New("state file corrupt or truncated")

const (
	stateMagic   = "CHAINDBF"
	stateVersion = 1
)

// Save serializes the whole database to path as a single blob: a header
// naming the section offsets, the arena image, the scope registry, the
// undo stack and a trailing blake2b-256 checksum. Every offset inside is
// base-relative so the file can be reloaded anywhere.
func (db *Database) Save(path string) error {
	db.mu.RLock()
	img := db.encode()
	db.mu.RUnlock()

	sum := blake2b.Sum256(img)

	f, err := os.CreateTemp(filepath.Dir(path), ".chaindb-*")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(img); err != nil {
		f.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if _, err := f.Write(sum[:]); err != nil {
		f.Close()
		return fmt.Errorf("failed to write state checksum: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("failed to publish state file: %w", err)
	}
	db.log.Info("state saved", "path", path, "bytes", len(img))
	return nil
}

// Open loads a database previously written by Save.
func Open(path string, resolver SchemaResolver, cfg *Config) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) < blake2b.Size256 {
		return nil, ErrBadStateFile
	}
	sum := data[len(data)-blake2b.Size256:]
	img := data[:len(data)-blake2b.Size256]
	want := blake2b.Sum256(img)
	if string(want[:]) != string(sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadStateFile)
	}

	db := New(resolver, cfg)
	if err := db.decode(img, cfg); err != nil {
		return nil, err
	}
	db.log.Info("state loaded", "path", path, "revision", db.revision)
	return db, nil
}

func (db *Database) encode() []byte {
	// Header: magic, version, then three section offsets patched in below.
	out := []byte(stateMagic)
	out = binary.LittleEndian.AppendUint32(out, stateVersion)
	offsetsAt := len(out)
	out = append(out, make([]byte, 3*8)...)
	out = binary.LittleEndian.AppendUint64(out, db.revision)

	// Arena section.
	arenaOff := uint64(len(out))
	img := db.ar.Snapshot()
	out = binary.LittleEndian.AppendUint64(out, uint64(len(img)))
	out = append(out, img...)

	// Registry section.
	registryOff := uint64(len(out))
	out = binary.LittleEndian.AppendUint32(out, uint32(db.scopes.Len()))
	db.scopes.Scan(func(s *Scope) bool {
		out = binary.LittleEndian.AppendUint64(out, s.ID.Code)
		out = binary.LittleEndian.AppendUint64(out, s.ID.Scope)
		out = binary.LittleEndian.AppendUint32(out, uint32(s.tables.Len()))
		s.tables.Scan(func(t *table.Table) bool {
			out = encodeTable(out, t)
			return true
		})
		return true
	})

	// Undo section.
	undoOff := uint64(len(out))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(db.undo)))
	for _, us := range db.undo {
		out = encodeUndoState(out, us)
	}

	binary.LittleEndian.PutUint64(out[offsetsAt:], arenaOff)
	binary.LittleEndian.PutUint64(out[offsetsAt+8:], registryOff)
	binary.LittleEndian.PutUint64(out[offsetsAt+16:], undoOff)
	return out
}

func encodeTable(out []byte, t *table.Table) []byte {
	out = binary.LittleEndian.AppendUint64(out, t.Name)
	out = binary.LittleEndian.AppendUint16(out, t.TypeID)
	out = append(out, byte(t.SecondaryCount()))
	for slot := 0; slot < t.SecondaryCount(); slot++ {
		out = append(out, byte(t.Secondary(slot).Kind()))
	}

	out = binary.LittleEndian.AppendUint32(out, uint32(t.Len()))
	t.Scan(func(r *table.Row) bool {
		off, size := t.PayloadRef(r)
		out = binary.LittleEndian.AppendUint64(out, r.Primary)
		out = binary.LittleEndian.AppendUint64(out, r.Payer)
		out = binary.LittleEndian.AppendUint64(out, off)
		out = binary.LittleEndian.AppendUint32(out, size)
		return true
	})

	for slot := 0; slot < t.SecondaryCount(); slot++ {
		idx := t.Secondary(slot)
		out = binary.LittleEndian.AppendUint32(out, uint32(idx.Len()))
		idx.Scan(func(e *table.Entry) bool {
			out = binary.LittleEndian.AppendUint64(out, e.Primary)
			out = binary.LittleEndian.AppendUint64(out, e.Payer)
			out = append(out, e.Sec...) // fixed width per kind
			return true
		})
	}
	return out
}

func encodeUndoState(out []byte, us *undoState) []byte {
	out = binary.LittleEndian.AppendUint64(out, us.revision)
	out = binary.LittleEndian.AppendUint64(out, us.prevRevision)
	if us.closed {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}

	out = binary.LittleEndian.AppendUint32(out, uint32(len(us.newScopes)))
	for _, id := range us.newScopes {
		out = binary.LittleEndian.AppendUint64(out, id.Code)
		out = binary.LittleEndian.AppendUint64(out, id.Scope)
	}

	out = binary.LittleEndian.AppendUint32(out, uint32(len(us.shards)))
	for _, su := range us.shards {
		out = encodeScopeList(out, su.writeScopes)
		out = encodeScopeList(out, su.readScopes)
		out = encodeTableRefs(out, su.newTables)
		out = encodeTableRefs(out, su.removedTables)

		out = binary.LittleEndian.AppendUint32(out, uint32(len(su.rows)))
		for _, ru := range su.rows {
			out = binary.LittleEndian.AppendUint64(out, ru.Key.Scope.Code)
			out = binary.LittleEndian.AppendUint64(out, ru.Key.Scope.Scope)
			out = binary.LittleEndian.AppendUint64(out, ru.Key.Table)
			out = binary.LittleEndian.AppendUint64(out, ru.Key.Primary)
			out = encodeImage(out, ru.Image)
		}
	}
	return out
}

func encodeScopeList(out []byte, scopes []uint64) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(scopes)))
	for _, s := range scopes {
		out = binary.LittleEndian.AppendUint64(out, s)
	}
	return out
}

func encodeTableRefs(out []byte, refs []tableRef) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(refs)))
	for _, ref := range refs {
		out = binary.LittleEndian.AppendUint64(out, ref.Scope.Code)
		out = binary.LittleEndian.AppendUint64(out, ref.Scope.Scope)
		out = binary.LittleEndian.AppendUint64(out, ref.Table)
		out = binary.LittleEndian.AppendUint16(out, ref.TypeID)
	}
	return out
}

func encodeImage(out []byte, img rowImage) []byte {
	if img.RowPresent {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = binary.LittleEndian.AppendUint64(out, img.Payer)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(img.Payload)))
	out = append(out, img.Payload...)
	out = append(out, byte(len(img.Secondary)))
	for _, sec := range img.Secondary {
		if sec.Present {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = binary.LittleEndian.AppendUint64(out, sec.Payer)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(sec.Sec)))
		out = append(out, sec.Sec...)
	}
	return out
}

// reader is a bounds-checked cursor over the state image.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrBadStateFile
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (db *Database) decode(img []byte, cfg *Config) error {
	r := &reader{buf: img}
	if string(r.take(len(stateMagic))) != stateMagic {
		return fmt.Errorf("%w: bad magic", ErrBadStateFile)
	}
	if v := r.u32(); v != stateVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadStateFile, v)
	}
	r.take(3 * 8) // section offsets; sections follow in order
	db.revision = r.u64()

	// Arena section.
	arenaLen := r.u64()
	arenaImg := r.take(int(arenaLen))
	if r.err != nil {
		return r.err
	}
	var arenaCfg *arena.Config
	if cfg != nil {
		arenaCfg = cfg.Arena
	}
	ar, err := arena.Restore(arenaImg, arenaCfg)
	if err != nil {
		return err
	}
	db.ar = ar

	// Registry section.
	scopeCount := r.u32()
	for i := uint32(0); i < scopeCount && r.err == nil; i++ {
		id := ScopeID{Code: r.u64(), Scope: r.u64()}
		scope := newScope(id)
		db.scopes.Set(scope)
		tableCount := r.u32()
		for j := uint32(0); j < tableCount && r.err == nil; j++ {
			if err := db.decodeTable(r, scope); err != nil {
				return err
			}
		}
	}

	// Undo section.
	undoCount := r.u32()
	for i := uint32(0); i < undoCount && r.err == nil; i++ {
		us, err := decodeUndoState(r)
		if err != nil {
			return err
		}
		db.undo = append(db.undo, us)
	}
	return r.err
}

func (db *Database) decodeTable(r *reader, scope *Scope) error {
	name := r.u64()
	typeID := r.u16()
	kindCount := int(r.u8())
	kinds := make([]keys.Kind, 0, kindCount)
	for i := 0; i < kindCount; i++ {
		kinds = append(kinds, keys.Kind(r.u8()))
	}
	if r.err != nil {
		return r.err
	}

	t, err := table.New(name, typeID, kinds, db.ar)
	if err != nil {
		return err
	}

	rowCount := r.u32()
	for i := uint32(0); i < rowCount && r.err == nil; i++ {
		primary := r.u64()
		payer := r.u64()
		off := r.u64()
		size := r.u32()
		if r.err != nil {
			break
		}
		if err := t.RestoreRow(primary, payer, off, size); err != nil {
			return err
		}
	}

	for slot := 0; slot < kindCount; slot++ {
		entryCount := r.u32()
		width := kinds[slot].Size()
		for i := uint32(0); i < entryCount && r.err == nil; i++ {
			primary := r.u64()
			payer := r.u64()
			sec := r.bytes(width)
			if r.err != nil {
				break
			}
			if err := t.Secondary(slot).Store(primary, sec, payer); err != nil {
				return err
			}
		}
	}
	if r.err != nil {
		return r.err
	}
	scope.tables.Set(t)
	return nil
}

func decodeUndoState(r *reader) (*undoState, error) {
	us := newUndoState(r.u64())
	us.prevRevision = r.u64()
	us.closed = r.u8() == 1

	scopeCount := r.u32()
	for i := uint32(0); i < scopeCount && r.err == nil; i++ {
		us.newScopes = append(us.newScopes, ScopeID{Code: r.u64(), Scope: r.u64()})
	}

	shardCount := r.u32()
	for i := uint32(0); i < shardCount && r.err == nil; i++ {
		su := newShardUndo(decodeScopeList(r), decodeScopeList(r))
		su.newTables = decodeTableRefs(r)
		su.removedTables = decodeTableRefs(r)

		rowCount := r.u32()
		for j := uint32(0); j < rowCount && r.err == nil; j++ {
			key := rowKey{
				Scope:   ScopeID{Code: r.u64(), Scope: r.u64()},
				Table:   r.u64(),
				Primary: r.u64(),
			}
			img, err := decodeImage(r)
			if err != nil {
				return nil, err
			}
			su.touched[key] = len(su.rows)
			su.rows = append(su.rows, rowUndo{Key: key, Image: img})
		}

		us.shards = append(us.shards, su)
		for _, ws := range su.writeScopes {
			us.writeClaims[ws] = su
		}
		for _, rs := range su.readScopes {
			us.readClaims[rs]++
		}
	}
	return us, r.err
}

func decodeScopeList(r *reader) []uint64 {
	n := r.u32()
	out := make([]uint64, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		out = append(out, r.u64())
	}
	return out
}

func decodeTableRefs(r *reader) []tableRef {
	n := r.u32()
	out := make([]tableRef, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		out = append(out, tableRef{
			Scope:  ScopeID{Code: r.u64(), Scope: r.u64()},
			Table:  r.u64(),
			TypeID: r.u16(),
		})
	}
	return out
}

func decodeImage(r *reader) (rowImage, error) {
	img := rowImage{}
	img.RowPresent = r.u8() == 1
	img.Payer = r.u64()
	img.Payload = r.bytes(int(r.u32()))
	secCount := int(r.u8())
	for i := 0; i < secCount && r.err == nil; i++ {
		sec := secImage{}
		sec.Present = r.u8() == 1
		sec.Payer = r.u64()
		sec.Sec = r.bytes(int(r.u32()))
		img.Secondary = append(img.Secondary, sec)
	}
	return img, r.err
}
