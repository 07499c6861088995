package table

// Iterator walks the primary index in ascending key order. The zero value
// and any iterator whose row is nil equal End().
type Iterator struct {
	t   *Table
	row *Row
}

// Find returns an iterator at primary, or (End, false) if absent.
func (t *Table) Find(primary uint64) (Iterator, bool) {
	row, ok := t.primary.Get(&Row{Primary: primary})
	if !ok {
		return t.End(), false
	}
	return Iterator{t: t, row: row}, true
}

// LowerBound returns the first row with key >= primary, or End.
func (t *Table) LowerBound(primary uint64) Iterator {
	var found *Row
	t.primary.Ascend(&Row{Primary: primary}, func(r *Row) bool {
		found = r
		return false
	})
	return Iterator{t: t, row: found}
}

// UpperBound returns the first row with key strictly > primary, or End.
func (t *Table) UpperBound(primary uint64) Iterator {
	var found *Row
	t.primary.Ascend(&Row{Primary: primary}, func(r *Row) bool {
		if r.Primary == primary {
			return true
		}
		found = r
		return false
	})
	return Iterator{t: t, row: found}
}

// End returns the past-the-last sentinel.
func (t *Table) End() Iterator {
	return Iterator{t: t}
}

// First returns the smallest-keyed row, or End on an empty table.
func (t *Table) First() Iterator {
	row, ok := t.primary.Min()
	if !ok {
		return t.End()
	}
	return Iterator{t: t, row: row}
}

// Last returns the largest-keyed row, or End on an empty table.
func (t *Table) Last() Iterator {
	row, ok := t.primary.Max()
	if !ok {
		return t.End()
	}
	return Iterator{t: t, row: row}
}

// IsEnd reports whether the iterator is the end sentinel.
func (it Iterator) IsEnd() bool {
	return it.row == nil
}

// Row returns the current row, or nil at End.
func (it Iterator) Row() *Row {
	return it.row
}

// Next returns the iterator one position forward. Advancing End fails with
// ErrIteratorExhausted rather than wrapping.
func (it Iterator) Next() (Iterator, error) {
	if it.row == nil {
		return it, ErrIteratorExhausted
	}
	next, ok := it.t.NextAfter(it.row.Primary)
	if !ok {
		return it.t.End(), nil
	}
	return Iterator{t: it.t, row: next}, nil
}

// Previous returns the iterator one position back. Previous of End yields
// the last row; stepping back from the first row fails.
func (it Iterator) Previous() (Iterator, error) {
	if it.row == nil {
		last := it.t.Last()
		if last.IsEnd() {
			return it, ErrIteratorExhausted
		}
		return last, nil
	}
	prev, ok := it.t.PreviousBefore(it.row.Primary)
	if !ok {
		return it, ErrIteratorExhausted
	}
	return Iterator{t: it.t, row: prev}, nil
}

// NextAfter returns the first row with key strictly greater than primary.
// It does not require a live row at primary, so callers can step past a
// key that has been erased.
func (t *Table) NextAfter(primary uint64) (*Row, bool) {
	var found *Row
	t.primary.Ascend(&Row{Primary: primary}, func(r *Row) bool {
		if r.Primary == primary {
			return true
		}
		found = r
		return false
	})
	return found, found != nil
}

// PreviousBefore returns the last row with key strictly less than primary.
func (t *Table) PreviousBefore(primary uint64) (*Row, bool) {
	var found *Row
	t.primary.Descend(&Row{Primary: primary}, func(r *Row) bool {
		if r.Primary == primary {
			return true
		}
		found = r
		return false
	})
	return found, found != nil
}
