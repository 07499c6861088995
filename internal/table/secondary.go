package table

import (
	"bytes"
	"fmt"

	"github.com/tidwall/btree"

	"github.com/klingon-exchange/chaindb/internal/keys"
)

// Entry is one secondary-index record: a canonical secondary key bound to
// the primary key of the row it references.
type Entry struct {
	Sec     []byte // canonical order-preserving form, see keys
	Primary uint64
	Payer   uint64
}

// SecondaryIndex is an ordered map over (secondary key, primary key) pairs.
// At most one entry exists per primary key.
type SecondaryIndex struct {
	kind      keys.Kind
	tree      *btree.BTreeG[*Entry]
	byPrimary map[uint64]*Entry
}

func newSecondaryIndex(kind keys.Kind) *SecondaryIndex {
	return &SecondaryIndex{
		kind: kind,
		tree: btree.NewBTreeGOptions(func(a, b *Entry) bool {
			if c := bytes.Compare(a.Sec, b.Sec); c != 0 {
				return c < 0
			}
			return a.Primary < b.Primary
		}, btree.Options{NoLocks: true}),
		byPrimary: make(map[uint64]*Entry),
	}
}

// Kind returns the secondary key kind this index orders by.
func (s *SecondaryIndex) Kind() keys.Kind {
	return s.kind
}

// Len returns the number of entries.
func (s *SecondaryIndex) Len() int {
	return len(s.byPrimary)
}

// Store adds an entry for primary. Each primary key may appear once.
func (s *SecondaryIndex) Store(primary uint64, sec []byte, payer uint64) error {
	if _, ok := s.byPrimary[primary]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePrimary, primary)
	}
	e := &Entry{Sec: append([]byte(nil), sec...), Primary: primary, Payer: payer}
	s.tree.Set(e)
	s.byPrimary[primary] = e
	return nil
}

// Update repositions primary's entry under a new secondary key, keeping
// the primary key fixed.
func (s *SecondaryIndex) Update(primary uint64, payer uint64, newSec []byte) error {
	e, ok := s.byPrimary[primary]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRowMissing, primary)
	}
	s.tree.Delete(e)
	e.Sec = append(e.Sec[:0], newSec...)
	e.Payer = payer
	s.tree.Set(e)
	return nil
}

// Remove erases primary's entry if present.
func (s *SecondaryIndex) Remove(primary uint64) error {
	if _, ok := s.byPrimary[primary]; !ok {
		return fmt.Errorf("%w: %d", ErrRowMissing, primary)
	}
	s.remove(primary)
	return nil
}

func (s *SecondaryIndex) remove(primary uint64) {
	e, ok := s.byPrimary[primary]
	if !ok {
		return
	}
	s.tree.Delete(e)
	delete(s.byPrimary, primary)
}

// FindPrimary returns the entry keyed by primary.
func (s *SecondaryIndex) FindPrimary(primary uint64) (*Entry, bool) {
	e, ok := s.byPrimary[primary]
	return e, ok
}

// FindSecondary returns the first entry whose secondary key equals sec
// (the lowest primary key under that secondary value).
func (s *SecondaryIndex) FindSecondary(sec []byte) (*Entry, bool) {
	e, ok := s.LowerBound(sec, 0)
	if !ok || !bytes.Equal(e.Sec, sec) {
		return nil, false
	}
	return e, true
}

// LowerBound returns the first entry >= (sec, primary).
func (s *SecondaryIndex) LowerBound(sec []byte, primary uint64) (*Entry, bool) {
	var found *Entry
	s.tree.Ascend(&Entry{Sec: sec, Primary: primary}, func(e *Entry) bool {
		found = e
		return false
	})
	return found, found != nil
}

// UpperBound returns the first entry whose secondary key is strictly
// greater than sec.
func (s *SecondaryIndex) UpperBound(sec []byte) (*Entry, bool) {
	var found *Entry
	s.tree.Ascend(&Entry{Sec: sec, Primary: 0}, func(e *Entry) bool {
		if bytes.Equal(e.Sec, sec) {
			return true
		}
		found = e
		return false
	})
	return found, found != nil
}

// Scan walks entries in (secondary, primary) order.
func (s *SecondaryIndex) Scan(fn func(e *Entry) bool) {
	s.tree.Scan(fn)
}

// First returns the smallest entry.
func (s *SecondaryIndex) First() (*Entry, bool) {
	return s.tree.Min()
}

// Last returns the largest entry.
func (s *SecondaryIndex) Last() (*Entry, bool) {
	return s.tree.Max()
}

// Next returns the entry following (sec, primary) in index order. The
// position itself need not be occupied, so callers can step past an
// erased entry.
func (s *SecondaryIndex) Next(sec []byte, primary uint64) (*Entry, bool) {
	var found *Entry
	s.tree.Ascend(&Entry{Sec: sec, Primary: primary}, func(e *Entry) bool {
		if e.Primary == primary && bytes.Equal(e.Sec, sec) {
			return true
		}
		found = e
		return false
	})
	return found, found != nil
}

// Previous returns the entry preceding (sec, primary) in index order.
func (s *SecondaryIndex) Previous(sec []byte, primary uint64) (*Entry, bool) {
	var found *Entry
	s.tree.Descend(&Entry{Sec: sec, Primary: primary}, func(e *Entry) bool {
		if e.Primary == primary && bytes.Equal(e.Sec, sec) {
			return true
		}
		found = e
		return false
	})
	return found, found != nil
}
