package bbp

import (
	"io"
	"testing"

	"github.com/monetbbp/bbploader/internal/log"
)

func testLog() *log.Helper {
	return log.NewHelper(log.NewFilter(log.NewStdLogger(io.Discard)))
}

func newTestPool(t *testing.T, farmDir string) *BufferPool {
	t.Helper()
	hl := &HeapLoader{MmapMinSizePersistent: 1 << 20, MmapMinSizeTransient: 1 << 20, Stats: &MemStats{}}
	return NewBufferPool(farmDir, NewAtomRegistry(), hl, testLog())
}

func intColumn(t *testing.T, id BatID, name, stem string, data []byte) *Column {
	t.Helper()
	col, err := NewColumn(id, name, stem, TagInt, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	col.Count = uint64(len(data) / 4)
	col.Capacity = col.Count
	col.Persistence = Persistent
	col.Heap = Heap{Free: uint64(len(data)), Size: uint64(len(data))}
	return col
}

func TestBufferPoolInstallAndValid(t *testing.T) {
	farmDir := t.TempDir()
	pool := newTestPool(t, farmDir)
	col := intColumn(t, 1, "col1", "07/714", []byte{1, 2, 3, 4})
	if err := pool.Install([]*Column{col}); err != nil {
		t.Fatal(err)
	}
	if !pool.Valid(1) {
		t.Fatal("expected BAT 1 to be valid")
	}
	if pool.Valid(0) {
		t.Fatal("BAT 0 must never be valid")
	}
	if pool.Valid(2) {
		t.Fatal("BAT 2 was never installed")
	}
	if got := pool.FindByName("col1"); got != 1 {
		t.Fatalf("FindByName = %d, want 1", got)
	}
}

func TestBufferPoolFixLoadsHeapAndUnfix(t *testing.T) {
	farmDir := t.TempDir()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	writeBatFile(t, farmDir, "07/714", "tail", data)

	pool := newTestPool(t, farmDir)
	col := intColumn(t, 1, "col1", "07/714", data)
	if err := pool.Install([]*Column{col}); err != nil {
		t.Fatal(err)
	}

	if pool.Cache(1) != nil {
		t.Fatal("column must not be cached before Fix")
	}
	if err := pool.Fix(1); err != nil {
		t.Fatal(err)
	}
	c := pool.Cache(1)
	if c == nil || c.Heap.Base == nil {
		t.Fatal("expected loaded heap after Fix")
	}
	refs, err := pool.Refs(1)
	if err != nil || refs != 1 {
		t.Fatalf("refs = %d, %v, want 1, nil", refs, err)
	}
	if err := pool.Unfix(1); err != nil {
		t.Fatal(err)
	}
	refs, _ = pool.Refs(1)
	if refs != 0 {
		t.Fatalf("refs after unfix = %d, want 0", refs)
	}
	// Unfix never unloads; the heap stays resident until Close.
	if pool.Cache(1) == nil {
		t.Fatal("heap must remain cached after Unfix")
	}
}

func TestBufferPoolPersistentColumnStartsWithOneRef(t *testing.T) {
	farmDir := t.TempDir()
	pool := newTestPool(t, farmDir)
	col := intColumn(t, 1, "col1", "07/714", []byte{1, 2, 3, 4})
	col.Persistence = Persistent
	if err := pool.Install([]*Column{col}); err != nil {
		t.Fatal(err)
	}
	if got := pool.slotAt(1).logicalRefs; got != 1 {
		t.Fatalf("logical refs after Install = %d, want 1", got)
	}
	if err := pool.Release(1); err != nil {
		t.Fatal(err)
	}
}

func TestBufferPoolViewRebase(t *testing.T) {
	farmDir := t.TempDir()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	writeBatFile(t, farmDir, "07/714", "tail", data)

	pool := newTestPool(t, farmDir)
	parent := intColumn(t, 1, "parent", "07/714", data)
	view, err := NewColumn(2, "view", "07/714", TagInt, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	view.Count = 1
	view.Persistence = Persistent
	view.Heap = Heap{ParentID: 1, ViewOffset: 4, Free: 4, Size: 4}

	if err := pool.Install([]*Column{parent, view}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Fix(2); err != nil {
		t.Fatal(err)
	}
	refs, err := pool.Refs(1)
	if err != nil || refs != 1 {
		t.Fatalf("parent refs = %d, %v, want 1 (loaded transitively by the view fix)", refs, err)
	}
	v := pool.Cache(2)
	if string(v.Heap.Base) != string(data[4:]) {
		t.Fatalf("view heap = %v, want %v", v.Heap.Base, data[4:])
	}
}

func TestBufferPoolMirror(t *testing.T) {
	farmDir := t.TempDir()
	data := []byte{1, 2, 3, 4}
	writeBatFile(t, farmDir, "07/714", "tail", data)

	pool := newTestPool(t, farmDir)
	col := intColumn(t, 1, "col1", "07/714", data)
	if err := pool.Install([]*Column{col}); err != nil {
		t.Fatal(err)
	}
	// The mirror of BAT 1 lives in the same slot, reached through -1.
	m, err := pool.Mirror(1)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 1 {
		t.Fatalf("mirror slot id = %d, want 1 (same underlying descriptor)", m.ID)
	}
	if m.Heap.Base == nil {
		t.Fatal("expected Mirror to materialize the heap like Descriptor does")
	}
}

func TestBufferPoolFixRejectsUnknownBatID(t *testing.T) {
	pool := newTestPool(t, t.TempDir())
	if err := pool.Fix(99); err == nil {
		t.Fatal("expected error fixing an uninstalled BAT-ID")
	}
}

func TestBufferPoolCloseReleasesOwnedHeapsOnly(t *testing.T) {
	farmDir := t.TempDir()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	writeBatFile(t, farmDir, "07/714", "tail", data)

	pool := newTestPool(t, farmDir)
	parent := intColumn(t, 1, "parent", "07/714", data)
	view, err := NewColumn(2, "view", "07/714", TagInt, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	view.Count = 1
	view.Persistence = Persistent
	view.Heap = Heap{ParentID: 1, ViewOffset: 4, Free: 4, Size: 4}
	if err := pool.Install([]*Column{parent, view}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Fix(2); err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if parent.Heap.Base != nil || view.Heap.Base != nil {
		t.Fatal("expected every heap base to be nil after Close")
	}
	if got := pool.heapLoader.Stats.BytesInUse(); got != 0 {
		t.Fatalf("BytesInUse after Close = %d, want 0 (parent buffer freed exactly once)", got)
	}
}

func TestBufferPoolColumnsEnumeratesInstalled(t *testing.T) {
	pool := newTestPool(t, t.TempDir())
	col := intColumn(t, 1, "col1", "07/714", []byte{1, 2, 3, 4})
	if err := pool.Install([]*Column{col}); err != nil {
		t.Fatal(err)
	}
	cols := pool.Columns()
	if len(cols) != 1 || cols[0].LogicalName != "col1" {
		t.Fatalf("Columns() = %+v", cols)
	}
}
