package contractdb

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/klingon-exchange/chaindb/internal/database"
	"github.com/klingon-exchange/chaindb/internal/keys"
	"github.com/klingon-exchange/chaindb/internal/table"
)

const (
	receiver   = 42
	otherCode  = 43
	scopeMain  = 100
	scopeOther = 101
	tblRows    = 7001 // type with u64 + f64 secondaries
	tblPlain   = 7002 // no secondaries
	payerOne   = 11
	payerTwo   = 12
)

type schemaMap map[uint16][]keys.Kind

func (m schemaMap) SecondaryKinds(typeID uint16) ([]keys.Kind, error) {
	kinds, ok := m[typeID]
	if !ok {
		return nil, errors.New("unknown table type")
	}
	return kinds, nil
}

func typeOf(code, tbl uint64) (uint16, error) {
	switch tbl {
	case tblRows:
		return 1, nil
	case tblPlain:
		return 2, nil
	default:
		return 0, errors.New("undeclared table")
	}
}

func newTestContext(t *testing.T) (*Context, *database.Session) {
	t.Helper()
	db := database.New(schemaMap{1: {keys.KindUint64, keys.KindFloat64}, 2: nil}, nil)
	sess, err := db.StartSession(1)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	shard, err := sess.StartShard([]uint64{scopeMain, scopeOther}, nil)
	if err != nil {
		t.Fatalf("StartShard() error = %v", err)
	}
	return NewContext(shard, receiver, TableTyperFunc(typeOf)), sess
}

func TestStoreFindGet(t *testing.T) {
	ctx, _ := newTestContext(t)

	itr, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 42, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	if itr < 0 {
		t.Fatalf("StoreI64() = %d, want handle >= 0", itr)
	}

	found, err := ctx.FindI64(receiver, scopeMain, tblRows, 42)
	if err != nil {
		t.Fatalf("FindI64() error = %v", err)
	}
	if found != itr {
		t.Errorf("FindI64() = %d, want same handle %d", found, itr)
	}

	// Full read.
	buf := make([]byte, 8)
	n, err := ctx.GetI64(found, buf)
	if err != nil {
		t.Fatalf("GetI64() error = %v", err)
	}
	if n != 3 || !bytes.Equal(buf[:3], []byte{0x01, 0x02, 0x03}) {
		t.Errorf("GetI64() = (%d, %x), want (3, 010203)", n, buf[:3])
	}

	// Short buffer gets the prefix but reports the full size.
	short := make([]byte, 2)
	n, err = ctx.GetI64(found, short)
	if err != nil {
		t.Fatalf("GetI64(short) error = %v", err)
	}
	if n != 3 || !bytes.Equal(short, []byte{0x01, 0x02}) {
		t.Errorf("GetI64(short) = (%d, %x), want (3, 0102)", n, short)
	}

	// Size query with no buffer.
	n, err = ctx.GetI64(found, nil)
	if err != nil {
		t.Fatalf("GetI64(nil) error = %v", err)
	}
	if n != 3 {
		t.Errorf("GetI64(nil) = %d, want 3", n)
	}
}

func TestStoreRequiresPayer(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, 0, 1, nil); !errors.Is(err, ErrBadPayer) {
		t.Errorf("StoreI64(payer 0) error = %v, want ErrBadPayer", err)
	}
}

func TestDuplicateStore(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); !errors.Is(err, table.ErrDuplicateKey) {
		t.Errorf("StoreI64(dup) error = %v, want ErrDuplicateKey", err)
	}
}

func TestEndIteratorIdentity(t *testing.T) {
	ctx, _ := newTestContext(t)

	// Unknown table: -1.
	end, err := ctx.EndI64(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndI64() error = %v", err)
	}
	if end != EndIterator {
		t.Errorf("EndI64(unknown) = %d, want -1", end)
	}

	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}

	end1, err := ctx.EndI64(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndI64() error = %v", err)
	}
	end2, err := ctx.EndI64(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndI64() error = %v", err)
	}
	if end1 >= 0 || end1 == EndIterator {
		t.Errorf("EndI64() = %d, want encoded table end < -1", end1)
	}
	if end1 != end2 {
		t.Errorf("EndI64() twice = %d, %d, want identical", end1, end2)
	}

	// Find of a missing row returns the same table end.
	missing, err := ctx.FindI64(receiver, scopeMain, tblRows, 999)
	if err != nil {
		t.Fatalf("FindI64(missing) error = %v", err)
	}
	if missing != end1 {
		t.Errorf("FindI64(missing) = %d, want table end %d", missing, end1)
	}
}

func TestTraversal(t *testing.T) {
	ctx, _ := newTestContext(t)
	for _, id := range []uint64{30, 10, 20} {
		if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, id, []byte{byte(id)}); err != nil {
			t.Fatalf("StoreI64(%d) error = %v", id, err)
		}
	}

	itr, err := ctx.LowerboundI64(receiver, scopeMain, tblRows, 0)
	if err != nil {
		t.Fatalf("LowerboundI64() error = %v", err)
	}
	var order []uint64
	order = append(order, 10) // lowerbound(0) lands on 10
	for {
		next, primary, err := ctx.NextI64(itr)
		if err != nil {
			t.Fatalf("NextI64() error = %v", err)
		}
		if next < 0 {
			break
		}
		order = append(order, primary)
		itr = next
	}
	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Errorf("forward order = %v, want [10 20 30]", order)
	}

	// Previous from the table end yields the last row.
	end, err := ctx.EndI64(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndI64() error = %v", err)
	}
	prev, primary, err := ctx.PreviousI64(end)
	if err != nil {
		t.Fatalf("PreviousI64(end) error = %v", err)
	}
	if primary != 30 {
		t.Errorf("PreviousI64(end) primary = %d, want 30", primary)
	}

	// Next from the last row yields the table end.
	next, _, err := ctx.NextI64(prev)
	if err == nil && next >= 0 {
		t.Fatalf("NextI64(last) = %d, want table end", next)
	}

	// previous(next(h)) == h.
	mid, err := ctx.FindI64(receiver, scopeMain, tblRows, 20)
	if err != nil {
		t.Fatalf("FindI64(20) error = %v", err)
	}
	fwd, _, err := ctx.NextI64(mid)
	if err != nil {
		t.Fatalf("NextI64(mid) error = %v", err)
	}
	back, primary, err := ctx.PreviousI64(fwd)
	if err != nil {
		t.Fatalf("PreviousI64() error = %v", err)
	}
	if back != mid || primary != 20 {
		t.Errorf("previous(next(find(20))) = (%d, %d), want (%d, 20)", back, primary, mid)
	}

	// Upperbound is strict.
	ub, err := ctx.UpperboundI64(receiver, scopeMain, tblRows, 20)
	if err != nil {
		t.Fatalf("UpperboundI64() error = %v", err)
	}
	n, err := ctx.GetI64(ub, nil)
	if err != nil {
		t.Fatalf("GetI64(ub) error = %v", err)
	}
	if n != 1 {
		t.Errorf("upperbound(20) row size = %d, want 1", n)
	}
}

func TestNextOfEndFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	end, err := ctx.EndI64(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndI64() error = %v", err)
	}
	if _, _, err := ctx.NextI64(end); !errors.Is(err, table.ErrIteratorExhausted) {
		t.Errorf("NextI64(end) error = %v, want ErrIteratorExhausted", err)
	}
	if _, _, err := ctx.NextI64(EndIterator); !errors.Is(err, table.ErrIteratorExhausted) {
		t.Errorf("NextI64(-1) error = %v, want ErrIteratorExhausted", err)
	}
}

func TestErasedIterator(t *testing.T) {
	ctx, _ := newTestContext(t)
	for _, id := range []uint64{1, 2, 3} {
		if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, id, []byte{byte(id)}); err != nil {
			t.Fatalf("StoreI64(%d) error = %v", id, err)
		}
	}

	mid, err := ctx.FindI64(receiver, scopeMain, tblRows, 2)
	if err != nil {
		t.Fatalf("FindI64(2) error = %v", err)
	}
	if err := ctx.RemoveI64(mid); err != nil {
		t.Fatalf("RemoveI64() error = %v", err)
	}

	// Get on the erased handle fails.
	if _, err := ctx.GetI64(mid, nil); !errors.Is(err, ErrIteratorErased) {
		t.Errorf("GetI64(erased) error = %v, want ErrIteratorErased", err)
	}
	// Double remove fails the same way.
	if err := ctx.RemoveI64(mid); !errors.Is(err, ErrIteratorErased) {
		t.Errorf("RemoveI64(erased) error = %v, want ErrIteratorErased", err)
	}

	// Navigation still works from the former position.
	_, primary, err := ctx.NextI64(mid)
	if err != nil {
		t.Fatalf("NextI64(erased) error = %v", err)
	}
	if primary != 3 {
		t.Errorf("NextI64(erased) primary = %d, want 3", primary)
	}
	_, primary, err = ctx.PreviousI64(mid)
	if err != nil {
		t.Fatalf("PreviousI64(erased) error = %v", err)
	}
	if primary != 1 {
		t.Errorf("PreviousI64(erased) primary = %d, want 1", primary)
	}
}

func TestIteratorStability(t *testing.T) {
	ctx, _ := newTestContext(t)
	h, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 5000, []byte{0xDE, 0xAD})
	if err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}

	// 100 unrelated inserts must not disturb the handle.
	for i := uint64(0); i < 100; i++ {
		if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, i, []byte{byte(i)}); err != nil {
			t.Fatalf("StoreI64(%d) error = %v", i, err)
		}
	}

	buf := make([]byte, 4)
	n, err := ctx.GetI64(h, buf)
	if err != nil {
		t.Fatalf("GetI64() error = %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:2], []byte{0xDE, 0xAD}) {
		t.Errorf("GetI64() = (%d, %x), want (2, dead)", n, buf[:2])
	}
}

func TestUpdateKeepsPayerWhenZero(t *testing.T) {
	ctx, _ := newTestContext(t)
	h, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, []byte{0x01})
	if err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	if err := ctx.UpdateI64(h, 0, []byte{0x02}); err != nil {
		t.Fatalf("UpdateI64() error = %v", err)
	}
	buf := make([]byte, 1)
	if _, err := ctx.GetI64(h, buf); err != nil {
		t.Fatalf("GetI64() error = %v", err)
	}
	if buf[0] != 0x02 {
		t.Errorf("payload = %x, want 02", buf[0])
	}
	tab := ctx.findTable(tableKey{code: receiver, scope: scopeMain, table: tblRows})
	if tab == nil {
		t.Fatal("table missing after update")
	}
	it, ok := tab.Find(1)
	if !ok {
		t.Fatal("row 1 missing after update")
	}
	if it.Row().Payer != payerOne {
		t.Errorf("payer = %d, want %d", it.Row().Payer, payerOne)
	}
}

func TestWriteToForeignTableFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	// A second context acting for another contract writes a row the first
	// context can read but not mutate.
	other := NewContext(ctxShard(ctx), otherCode, TableTyperFunc(typeOf))
	if _, err := other.StoreI64(scopeOther, tblRows, payerOne, 1, []byte{0x01}); err != nil {
		t.Fatalf("StoreI64(other) error = %v", err)
	}

	found, err := ctx.FindI64(otherCode, scopeOther, tblRows, 1)
	if err != nil {
		t.Fatalf("FindI64(foreign) error = %v", err)
	}
	if found < 0 {
		t.Fatal("foreign row not visible")
	}
	if err := ctx.UpdateI64(found, payerTwo, []byte{0x02}); !errors.Is(err, ErrNotOwned) {
		t.Errorf("UpdateI64(foreign) error = %v, want ErrNotOwned", err)
	}
	if err := ctx.RemoveI64(found); !errors.Is(err, ErrNotOwned) {
		t.Errorf("RemoveI64(foreign) error = %v, want ErrNotOwned", err)
	}
}

// ctxShard exposes the shard for building a second context in tests.
func ctxShard(c *Context) *database.Shard {
	return c.shard
}

func TestRemoveLastRowDropsTable(t *testing.T) {
	ctx, _ := newTestContext(t)
	h, err := ctx.StoreI64(scopeMain, tblPlain, payerOne, 1, nil)
	if err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	if err := ctx.RemoveI64(h); err != nil {
		t.Fatalf("RemoveI64() error = %v", err)
	}
	found, err := ctx.FindI64(receiver, scopeMain, tblPlain, 1)
	if err != nil {
		t.Fatalf("FindI64() error = %v", err)
	}
	if found != EndIterator {
		t.Errorf("FindI64() after table drop = %d, want -1", found)
	}
}

func TestIdx64Flow(t *testing.T) {
	ctx, _ := newTestContext(t)

	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, []byte{0xAA}); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	h, err := ctx.Idx64.Store(scopeMain, tblRows, payerOne, 1, 7)
	if err != nil {
		t.Fatalf("Idx64.Store() error = %v", err)
	}
	if h < 0 {
		t.Fatalf("Idx64.Store() = %d, want handle", h)
	}
	if _, err := ctx.Idx64.Store(scopeMain, tblRows, payerOne, 1, 8); !errors.Is(err, table.ErrDuplicatePrimary) {
		t.Errorf("Idx64.Store(dup) error = %v, want ErrDuplicatePrimary", err)
	}

	itr, primary, err := ctx.Idx64.FindSecondary(receiver, scopeMain, tblRows, 7)
	if err != nil {
		t.Fatalf("FindSecondary() error = %v", err)
	}
	if primary != 1 || itr != h {
		t.Errorf("FindSecondary(7) = (%d, %d), want (%d, 1)", itr, primary, h)
	}

	itr, sec, err := ctx.Idx64.FindPrimary(receiver, scopeMain, tblRows, 1)
	if err != nil {
		t.Fatalf("FindPrimary() error = %v", err)
	}
	if sec != 7 {
		t.Errorf("FindPrimary(1) secondary = %d, want 7", sec)
	}

	// Update repositions; the old value is gone.
	if err := ctx.Idx64.Update(itr, payerTwo, 9); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	end, err := ctx.Idx64.EndSecondary(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndSecondary() error = %v", err)
	}
	missing, _, err := ctx.Idx64.FindSecondary(receiver, scopeMain, tblRows, 7)
	if err != nil {
		t.Fatalf("FindSecondary(7) error = %v", err)
	}
	if missing != end {
		t.Errorf("FindSecondary(7) after update = %d, want end %d", missing, end)
	}
	_, primary, err = ctx.Idx64.FindSecondary(receiver, scopeMain, tblRows, 9)
	if err != nil {
		t.Fatalf("FindSecondary(9) error = %v", err)
	}
	if primary != 1 {
		t.Errorf("FindSecondary(9) primary = %d, want 1", primary)
	}

	// Remove; the entry disappears but the primary row survives.
	itr, _, err = ctx.Idx64.FindSecondary(receiver, scopeMain, tblRows, 9)
	if err != nil {
		t.Fatalf("FindSecondary() error = %v", err)
	}
	if err := ctx.Idx64.Remove(itr); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	found, err := ctx.FindI64(receiver, scopeMain, tblRows, 1)
	if err != nil {
		t.Fatalf("FindI64() error = %v", err)
	}
	if found < 0 {
		t.Error("primary row gone after secondary remove")
	}
}

func TestIdx64Bounds(t *testing.T) {
	ctx, _ := newTestContext(t)
	for _, pair := range []struct{ id, sec uint64 }{{1, 10}, {2, 10}, {3, 20}} {
		if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, pair.id, nil); err != nil {
			t.Fatalf("StoreI64(%d) error = %v", pair.id, err)
		}
		if _, err := ctx.Idx64.Store(scopeMain, tblRows, payerOne, pair.id, pair.sec); err != nil {
			t.Fatalf("Idx64.Store(%d) error = %v", pair.id, err)
		}
	}

	itr, sec, primary, err := ctx.Idx64.LowerboundSecondary(receiver, scopeMain, tblRows, 10)
	if err != nil {
		t.Fatalf("LowerboundSecondary() error = %v", err)
	}
	if sec != 10 || primary != 1 {
		t.Errorf("lowerbound(10) = (%d, %d), want (10, 1)", sec, primary)
	}

	// Ties iterate primary-ascending, then move to the next value.
	itr, primary, err = ctx.Idx64.NextSecondary(itr)
	if err != nil {
		t.Fatalf("NextSecondary() error = %v", err)
	}
	if primary != 2 {
		t.Errorf("next = primary %d, want 2", primary)
	}
	itr, primary, err = ctx.Idx64.NextSecondary(itr)
	if err != nil {
		t.Fatalf("NextSecondary() error = %v", err)
	}
	if primary != 3 {
		t.Errorf("next = primary %d, want 3", primary)
	}

	_, sec, primary, err = ctx.Idx64.UpperboundSecondary(receiver, scopeMain, tblRows, 10)
	if err != nil {
		t.Fatalf("UpperboundSecondary() error = %v", err)
	}
	if sec != 20 || primary != 3 {
		t.Errorf("upperbound(10) = (%d, %d), want (20, 3)", sec, primary)
	}

	// Previous from the end iterator reaches the largest entry.
	end, err := ctx.Idx64.EndSecondary(receiver, scopeMain, tblRows)
	if err != nil {
		t.Fatalf("EndSecondary() error = %v", err)
	}
	_, primary, err = ctx.Idx64.PreviousSecondary(end)
	if err != nil {
		t.Fatalf("PreviousSecondary(end) error = %v", err)
	}
	if primary != 3 {
		t.Errorf("previous(end) primary = %d, want 3", primary)
	}

	if _, _, err := ctx.Idx64.NextSecondary(end); !errors.Is(err, table.ErrIteratorExhausted) {
		t.Errorf("NextSecondary(end) error = %v, want ErrIteratorExhausted", err)
	}
}

func TestIdxF64TotalOrder(t *testing.T) {
	ctx, _ := newTestContext(t)

	values := map[uint64]float64{
		1: 1.0,
		2: math.Copysign(0, -1),
		3: 0,
		4: math.NaN(),
		5: math.Inf(-1),
		6: math.Inf(1),
	}
	for id, v := range values {
		if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, id, nil); err != nil {
			t.Fatalf("StoreI64(%d) error = %v", id, err)
		}
		if _, err := ctx.IdxF64.Store(scopeMain, tblRows, payerOne, id, v); err != nil {
			t.Fatalf("IdxF64.Store(%d) error = %v", id, err)
		}
	}

	want := []uint64{5, 2, 3, 1, 6, 4} // -inf, -0.0, +0.0, 1.0, +inf, NaN
	itr, _, primary, err := ctx.IdxF64.LowerboundSecondary(receiver, scopeMain, tblRows, math.Inf(-1))
	if err != nil {
		t.Fatalf("LowerboundSecondary() error = %v", err)
	}
	got := []uint64{primary}
	for {
		next, primary, err := ctx.IdxF64.NextSecondary(itr)
		if err != nil {
			t.Fatalf("NextSecondary() error = %v", err)
		}
		if next < 0 {
			break
		}
		got = append(got, primary)
		itr = next
	}
	if len(got) != len(want) {
		t.Fatalf("enumerated %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	// A stored NaN is findable by NaN.
	_, primary, err = ctx.IdxF64.FindSecondary(receiver, scopeMain, tblRows, math.NaN())
	if err != nil {
		t.Fatalf("FindSecondary(NaN) error = %v", err)
	}
	if primary != 4 {
		t.Errorf("FindSecondary(NaN) primary = %d, want 4", primary)
	}
}

func TestWrongKeyType(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	// The table declares u64 + f64 secondaries; u128 is a type error.
	if _, err := ctx.Idx128.Store(scopeMain, tblRows, payerOne, 1, keys.Uint128{Lo: 5}); !errors.Is(err, ErrWrongKeyType) {
		t.Errorf("Idx128.Store() error = %v, want ErrWrongKeyType", err)
	}
	if _, err := ctx.Idx128.EndSecondary(receiver, scopeMain, tblRows); !errors.Is(err, ErrWrongKeyType) {
		t.Errorf("Idx128.EndSecondary() error = %v, want ErrWrongKeyType", err)
	}
}

func TestRemovePrimaryErasesSecondaryHandles(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, nil); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	sh, err := ctx.Idx64.Store(scopeMain, tblRows, payerOne, 1, 7)
	if err != nil {
		t.Fatalf("Idx64.Store() error = %v", err)
	}

	ph, err := ctx.FindI64(receiver, scopeMain, tblRows, 1)
	if err != nil {
		t.Fatalf("FindI64() error = %v", err)
	}
	if err := ctx.RemoveI64(ph); err != nil {
		t.Fatalf("RemoveI64() error = %v", err)
	}

	if err := ctx.Idx64.Update(sh, payerOne, 9); !errors.Is(err, ErrIteratorErased) {
		t.Errorf("Idx64.Update(after row removal) error = %v, want ErrIteratorErased", err)
	}
}

func TestSessionUndoAfterFacadeWrites(t *testing.T) {
	ctx, sess := newTestContext(t)
	if _, err := ctx.StoreI64(scopeMain, tblRows, payerOne, 1, []byte{0x01}); err != nil {
		t.Fatalf("StoreI64() error = %v", err)
	}
	if _, err := ctx.Idx64.Store(scopeMain, tblRows, payerOne, 1, 7); err != nil {
		t.Fatalf("Idx64.Store() error = %v", err)
	}
	sess.Undo()
	// The auto-created scope and table are gone with the session.
	found, err := ctx.FindI64(receiver, scopeMain, tblRows, 1)
	if err != nil {
		t.Fatalf("FindI64() error = %v", err)
	}
	if found != EndIterator {
		t.Errorf("FindI64() after undo = %d, want -1", found)
	}
}
