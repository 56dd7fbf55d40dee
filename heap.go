package bbp

import (
	"fmt"
	"io"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/monetbbp/bbploader/internal/log"
)

// StorageMode records how a heap's bytes reached process memory.
type StorageMode int

const (
	StorageMem StorageMode = iota
	StorageMmap
	StoragePriv
	StorageErr
)

func (m StorageMode) String() string {
	switch m {
	case StorageMem:
		return "mem"
	case StorageMmap:
		return "mmap"
	case StoragePriv:
		return "priv"
	default:
		return "err"
	}
}

// readChunk bounds a single read(2) call so a huge MEM heap never asks
// the OS for more than this many bytes in one syscall.
const readChunk = 1 << 30 // 1 GiB

// Heap is a contiguous byte region backing a column's primary storage or
// variable-width auxiliary storage.
type Heap struct {
	Free       uint64
	Size       uint64
	Base       []byte
	Filename   string
	Storage    StorageMode
	NewStorage StorageMode
	Copied     bool
	HasHash    bool // string heaps only: each string is preceded by a precomputed hash
	CleanHash  bool // string heaps only: hash table must be re-verified on load
	ParentID   BatID
	ViewOffset uint64 // for a view heap: byte offset into the parent's buffer

	mapped mmap.MMap // non-nil only when Storage is StorageMmap/StoragePriv
	stats  *MemStats
}

func (h *Heap) loaded() bool { return h.Base != nil }

// HeapLoader materializes heap bytes from the farm directory, choosing
// between owned memory and a memory map per the size thresholds.
type HeapLoader struct {
	MmapMinSizePersistent uint64
	MmapMinSizeTransient  uint64
	Stats                 *MemStats
	Log                   *log.Helper
}

// Load fills h from <farmDir>/bat/<stem>.<ext>. persistent selects which
// size threshold governs the MEM/MMAP decision.
func (hl *HeapLoader) Load(h *Heap, farmDir, stem, ext string, persistent bool) error {
	if h.loaded() {
		return nil
	}
	if h.Free > h.Size {
		return fmt.Errorf("%s.%s: %w (free=%d size=%d)", stem, ext, ErrFreeExceedsSize, h.Free, h.Size)
	}

	path, err := farmPath(farmDir, "bat", normalizeSeparators(stem), ext)
	if err != nil {
		return err
	}
	f, err := openReadOnly(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	threshold := hl.MmapMinSizePersistent
	if !persistent {
		threshold = hl.MmapMinSizeTransient
	}

	if h.Size < threshold {
		buf, err := readMem(f, h.Size, hl.Stats)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		h.Base = buf
		h.Storage = StorageMem
		h.stats = hl.Stats
		if hl.Log != nil {
			hl.Log.Debugf("loaded %s as MEM (%d bytes)", path, h.Size)
		}
		return nil
	}

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if uint64(fi.Size()) < h.Size {
		return fmt.Errorf("%s: %w (file has %d bytes, need %d; loader never extends files)",
			path, ErrMissingData, fi.Size(), h.Size)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", path, err)
	}
	hl.Stats.mapped(len(m))
	h.mapped = m
	h.Base = []byte(m)[:h.Size]
	h.Storage = StorageMmap
	h.stats = hl.Stats
	if hl.Log != nil {
		hl.Log.Debugf("mapped %s as MMAP (%d bytes)", path, h.Size)
	}
	return nil
}

func readMem(f io.Reader, size uint64, stats *MemStats) ([]byte, error) {
	buf := stats.alloc(int(size))
	var off uint64
	for off < size {
		n := size - off
		if n > readChunk {
			n = readChunk
		}
		read, err := io.ReadFull(f, buf[off:off+n])
		off += uint64(read)
		if err != nil {
			stats.free(buf)
			return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
	}
	return buf, nil
}

// release returns h's bytes to the OS or the allocator. Every heap whose
// base became non-null during open() must be released during close() by
// this symmetric operation.
func (h *Heap) release() error {
	if !h.loaded() {
		return nil
	}
	switch h.Storage {
	case StorageMmap, StoragePriv:
		if h.mapped != nil {
			if err := h.mapped.Unmap(); err != nil {
				return err
			}
			if h.stats != nil {
				h.stats.unmapped(len(h.mapped))
			}
		}
	case StorageMem:
		if h.stats != nil {
			h.stats.free(h.Base)
		}
	}
	h.Base = nil
	h.mapped = nil
	return nil
}

// rebase points a view heap's Base into its parent's buffer at the given
// byte offset (the view heap's ViewOffset; see BufferPool.loadOrRebase)
// and adopts the parent's storage mode.
func (h *Heap) rebase(parent *Heap, offset uint64) {
	h.Base = parent.Base[offset:]
	h.Storage = parent.Storage
}
