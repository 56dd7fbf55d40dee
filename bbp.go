package bbp

import (
	"fmt"

	"github.com/monetbbp/bbploader/internal/log"
)

// Slot bit-field flags.
type slotStatus uint32

const (
	statusExisting slotStatus = 1 << iota
	statusLoaded
	statusLoading
	statusWaiting
	statusDeleted
	statusSwapped
)

// slot is one entry of the buffer pool, indexed by |BAT-ID|.
type slot struct {
	col         *Column
	memRefs     int
	logicalRefs int
	status      slotStatus
}

// Two-level slot array sizing, matching the source's N_BBPINIT * BBPINIT
// bound of roughly 16M BAT-IDs on a 64-bit host.
const (
	bbpInit  = 1 << 14
	nBBPInit = 1 << 10
)

// BufferPool is the slotted container of column records indexed by
// BAT-ID, with reference counts, lazy heap load, and view parent
// resolution.
type BufferPool struct {
	farmDir    string
	registry   *AtomRegistry
	heapLoader *HeapLoader
	log        *log.Helper

	chunks [][]*slot
	size   BatID // high-water BAT-ID + 1
	byName map[string]BatID
}

// NewBufferPool returns an empty pool rooted at farmDir.
func NewBufferPool(farmDir string, registry *AtomRegistry, heapLoader *HeapLoader, lg *log.Helper) *BufferPool {
	return &BufferPool{
		farmDir:    farmDir,
		registry:   registry,
		heapLoader: heapLoader,
		log:        lg,
		size:       1, // BAT-ID 0 is reserved and never live
		byName:     make(map[string]BatID),
	}
}

func (p *BufferPool) limit() BatID { return BatID(len(p.chunks) * bbpInit) }

// extend allocates additional inner chunks until the pool's capacity
// exceeds bid. It never builds auxiliary indices; those belong to the
// full DBMS.
func (p *BufferPool) extend(bid BatID) error {
	for p.limit() <= bid {
		if len(p.chunks) >= nBBPInit {
			return fmt.Errorf("%w: %d exceeds the %d-slot bound", ErrInvalidBatID, bid, nBBPInit*bbpInit)
		}
		p.chunks = append(p.chunks, make([]*slot, bbpInit))
	}
	return nil
}

func (p *BufferPool) slotAt(bid BatID) *slot {
	idx := bid
	if idx < 0 {
		idx = -idx
	}
	if idx >= p.limit() {
		return nil
	}
	return p.chunks[idx/bbpInit][idx%bbpInit]
}

func (p *BufferPool) setSlotAt(bid BatID, s *slot) {
	p.chunks[bid/bbpInit][bid%bbpInit] = s
}

// Install adds cols to the pool, as produced by ParseCatalog. Persistent
// columns start with exactly one logical reference; transient columns
// start with zero.
func (p *BufferPool) Install(cols []*Column) error {
	for _, col := range cols {
		if col.ID <= 0 {
			return fmt.Errorf("%w: catalog column id %d must be positive", ErrInvalidBatID, col.ID)
		}
		if err := p.extend(col.ID); err != nil {
			return err
		}
		s := &slot{col: col, status: statusExisting}
		if col.Persistence == Persistent {
			s.logicalRefs = 1
		}
		p.setSlotAt(col.ID, s)
		if col.ID+1 > p.size {
			p.size = col.ID + 1
		}
		if col.Valid() {
			p.byName[col.LogicalName] = col.ID
		}
	}
	return nil
}

// Valid reports whether bid is nonzero, within the installed range, and
// names a slot whose logical name is present and doesn't start with '.'.
func (p *BufferPool) Valid(bid BatID) bool {
	if bid == 0 {
		return false
	}
	idx := bid
	if idx < 0 {
		idx = -idx
	}
	if idx >= p.size {
		return false
	}
	s := p.slotAt(bid)
	return s != nil && s.col.Valid()
}

// FindByName returns the BAT-ID for logicalName, or 0 if none exists.
func (p *BufferPool) FindByName(logicalName string) BatID {
	return p.byName[logicalName]
}

// Retain increments the logical-reference count without triggering a load.
func (p *BufferPool) Retain(bid BatID) error {
	s, err := p.requireSlot(bid)
	if err != nil {
		return err
	}
	s.logicalRefs++
	return nil
}

// Release decrements the logical-reference count.
func (p *BufferPool) Release(bid BatID) error {
	s, err := p.requireSlot(bid)
	if err != nil {
		return err
	}
	if s.logicalRefs > 0 {
		s.logicalRefs--
	}
	return nil
}

// Unfix decrements the memory-reference count. Reaching zero does not
// unload: this loader holds every heap until Close.
func (p *BufferPool) Unfix(bid BatID) error {
	s, err := p.requireSlot(bid)
	if err != nil {
		return err
	}
	if s.memRefs > 0 {
		s.memRefs--
	}
	return nil
}

// Refs returns bid's current memory-reference count, used by tests to
// check fix/unfix parity.
func (p *BufferPool) Refs(bid BatID) (int, error) {
	s, err := p.requireSlot(bid)
	if err != nil {
		return 0, err
	}
	return s.memRefs, nil
}

func (p *BufferPool) requireSlot(bid BatID) (*slot, error) {
	if !p.Valid(bid) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatID, bid)
	}
	return p.slotAt(bid), nil
}

// Fix increments the memory-reference count on bid's descriptor. If the
// count transitions from 0 to 1, bid's heaps are materialized, loading
// the view parent first if bid's primary or auxiliary heap has a
// non-self parentid.
func (p *BufferPool) Fix(bid BatID) error {
	s, err := p.requireSlot(bid)
	if err != nil {
		return err
	}
	if s.status&statusLoading != 0 {
		// Observing LOADING during a recursive load is a programming
		// error in this single-threaded loader: there is no other
		// thread that could be making progress on it.
		p.log.Fatalf("recursive fix of BAT %d while it is loading", bid)
		panic(fmt.Errorf("%w: BAT %d", ErrRecursiveLoad, bid))
	}
	s.memRefs++
	if s.memRefs == 1 {
		s.status |= statusLoading
		err := p.loadHeaps(s.col)
		s.status &^= statusLoading
		if err != nil {
			s.memRefs--
			return err
		}
		s.status |= statusLoaded
	}
	return nil
}

func (p *BufferPool) loadHeaps(col *Column) error {
	persistent := col.Persistence == Persistent

	if err := p.loadOrRebase(&col.Heap, col); err != nil {
		return err
	}
	if col.VHeap != nil {
		if err := p.loadOrRebaseVHeap(col.VHeap, col, persistent); err != nil {
			return err
		}
	}
	return nil
}

func (p *BufferPool) loadOrRebase(h *Heap, owner *Column) error {
	if h.ParentID != 0 && h.ParentID != owner.ID {
		if err := p.Fix(h.ParentID); err != nil {
			return fmt.Errorf("loading view parent %d of BAT %d: %w", h.ParentID, owner.ID, err)
		}
		parent := p.slotAt(h.ParentID)
		offset := h.ViewOffset
		h.rebase(&parent.col.Heap, offset)
		return nil
	}
	return p.heapLoader.Load(h, p.farmDir, owner.PhysicalStem, "tail", owner.Persistence == Persistent)
}

func (p *BufferPool) loadOrRebaseVHeap(h *Heap, owner *Column, persistent bool) error {
	if h.ParentID != 0 && h.ParentID != owner.ID {
		if err := p.Fix(h.ParentID); err != nil {
			return fmt.Errorf("loading vheap view parent %d of BAT %d: %w", h.ParentID, owner.ID, err)
		}
		parent := p.slotAt(h.ParentID)
		if parent.col.VHeap == nil {
			return fmt.Errorf("%w: view parent %d has no auxiliary heap", ErrNotLoaded, h.ParentID)
		}
		h.rebase(parent.col.VHeap, h.ViewOffset)
		return nil
	}
	if err := p.heapLoader.Load(h, p.farmDir, owner.PhysicalStem, "theap", persistent); err != nil {
		return err
	}
	if owner.Type == TagStr {
		return VerifyHashPrefix(h)
	}
	return nil
}

// Cache returns the live Column for bid if its heaps are loaded, or nil.
func (p *BufferPool) Cache(bid BatID) *Column {
	s := p.slotAt(bid)
	if s == nil || s.status&statusLoaded == 0 {
		return nil
	}
	return s.col
}

// Descriptor returns the cached Column for bid, loading its heaps first
// if necessary. The caller must pair every Descriptor call with Unfix.
func (p *BufferPool) Descriptor(bid BatID) (*Column, error) {
	if c := p.Cache(bid); c != nil {
		return c, nil
	}
	if err := p.Fix(bid); err != nil {
		return nil, err
	}
	s, err := p.requireSlot(bid)
	if err != nil {
		return nil, err
	}
	return s.col, nil
}

// Mirror returns the Column for -bid, the swapped view of bid.
func (p *BufferPool) Mirror(bid BatID) (*Column, error) {
	return p.Descriptor(-bid)
}

// QuickDesc returns bid's metadata without materializing heaps.
func (p *BufferPool) QuickDesc(bid BatID) (*Column, error) {
	s, err := p.requireSlot(bid)
	if err != nil {
		return nil, err
	}
	return s.col, nil
}

// Columns returns every valid column currently installed in the pool, in
// no particular order. It does not materialize any heaps.
func (p *BufferPool) Columns() []*Column {
	var out []*Column
	for _, chunk := range p.chunks {
		for _, s := range chunk {
			if s != nil && s.col.Valid() {
				out = append(out, s.col)
			}
		}
	}
	return out
}

// Close releases every heap whose base became non-null, in the symmetric
// operation to whatever loaded it. It is safe to call on a pool whose
// columns were never fixed.
func (p *BufferPool) Close() error {
	var firstErr error
	for _, chunk := range p.chunks {
		for _, s := range chunk {
			if s == nil {
				continue
			}
			col := s.col
			if col.Heap.ParentID == 0 || col.Heap.ParentID == col.ID {
				if err := col.Heap.release(); err != nil && firstErr == nil {
					firstErr = err
				}
			} else {
				col.Heap.Base = nil
			}
			if col.VHeap != nil {
				if col.VHeap.ParentID == 0 || col.VHeap.ParentID == col.ID {
					if err := col.VHeap.release(); err != nil && firstErr == nil {
						firstErr = err
					}
				} else {
					col.VHeap.Base = nil
				}
			}
		}
	}
	p.chunks = nil
	p.byName = nil
	return firstErr
}
