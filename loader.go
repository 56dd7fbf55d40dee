// Package bbp reconstructs an in-memory catalog of columns (BATs) from a
// column-store database's persistent on-disk image, and materializes each
// column's data and variable-width auxiliary heap into the process
// address space. It is a read-only loader: no writes, no commit
// protocol, no index construction, no query execution.
package bbp

import (
	"fmt"

	"github.com/monetbbp/bbploader/internal/log"
)

// Default heap size thresholds. A heap at or above this size is
// memory-mapped; smaller heaps are read into owned memory.
const (
	DefaultMmapMinSizePersistent = 64 * 1024
	DefaultMmapMinSizeTransient  = 64 * 1024
)

// Options configures Open. A nil *Options behaves like a zero Options
// with every field at its default.
type Options struct {
	// MmapMinSizePersistent overrides the MEM/MMAP threshold for
	// persistent columns. Zero uses DefaultMmapMinSizePersistent.
	MmapMinSizePersistent uint64

	// MmapMinSizeTransient overrides the threshold for transient
	// columns. This read-only loader only ever sees persistent data;
	// the field exists for callers that want to simulate the transient
	// path in tests.
	MmapMinSizeTransient uint64

	// Fast makes Descriptor behave like QuickDesc for every column: it
	// returns metadata without materializing heaps. Exported so the
	// cmd/bbpcat CLI can offer a fast metadata-only dump.
	Fast bool

	// DebugMask controls diagnostic verbosity per subsystem: bits are
	// caller-defined; this loader only consults it to decide Debugf
	// verbosity in the default logger.
	DebugMask uint32

	// Logger receives every diagnostic the loader emits. Defaults to a
	// stderr logger filtered to Error and above (Debug and above when
	// DebugMask is nonzero).
	Logger log.Logger
}

func (o *Options) normalized() Options {
	if o == nil {
		o = &Options{}
	}
	out := *o
	if out.MmapMinSizePersistent == 0 {
		out.MmapMinSizePersistent = DefaultMmapMinSizePersistent
	}
	if out.MmapMinSizeTransient == 0 {
		out.MmapMinSizeTransient = DefaultMmapMinSizeTransient
	}
	return out
}

// Loader is a handle onto one farm directory's catalog.
type Loader struct {
	FarmDir  string
	Registry *AtomRegistry
	Stats    *MemStats
	Header   Header
	Pool     *BufferPool

	opts Options
	log  *log.Helper
}

// Open locates <farmDir>/bat/BACKUP/BBP.dir, validates its header, and
// parses every column record into the returned Loader's buffer pool. On
// failure it returns a nil Loader and releases any partial state it
// built.
func Open(farmDir string, opts *Options) (*Loader, error) {
	o := opts.normalized()

	var helper *log.Helper
	if o.Logger != nil {
		helper = log.NewHelper(o.Logger)
	} else {
		level := log.LevelError
		if o.DebugMask != 0 {
			level = log.LevelDebug
		}
		helper = log.NewHelper(log.NewFilter(log.NewStdLogger(stderrWriter{}), log.FilterLevel(level)))
	}

	registry := NewAtomRegistry()
	stats := &MemStats{}

	hdr, catalogErr := ParseCatalog(farmDir, registry, ptrSizeOfHost, oidSizeOfHost, intSizeOfHost)
	if catalogErr != nil {
		helper.Errorf("open %s: %v", farmDir, catalogErr)
		return nil, catalogErr
	}

	heapLoader := &HeapLoader{
		MmapMinSizePersistent: o.MmapMinSizePersistent,
		MmapMinSizeTransient:  o.MmapMinSizeTransient,
		Stats:                 stats,
		Log:                   helper,
	}
	pool := NewBufferPool(farmDir, registry, heapLoader, helper)
	if err := pool.Install(hdr.Columns); err != nil {
		helper.Errorf("open %s: installing catalog: %v", farmDir, err)
		return nil, err
	}

	return &Loader{
		FarmDir:  farmDir,
		Registry: registry,
		Stats:    stats,
		Header:   hdr.Header,
		Pool:     pool,
		opts:     o,
		log:      helper,
	}, nil
}

// Close releases every mapping and owned buffer the Loader holds.
func (l *Loader) Close() error {
	return l.Pool.Close()
}

// FindByName returns the BAT-ID named logicalName, or 0.
func (l *Loader) FindByName(logicalName string) BatID { return l.Pool.FindByName(logicalName) }

// Descriptor returns bid's column, lazily materializing its heaps. Must
// be paired with Unfix.
func (l *Loader) Descriptor(bid BatID) (*Column, error) {
	if l.opts.Fast {
		return l.Pool.QuickDesc(bid)
	}
	return l.Pool.Descriptor(bid)
}

// Mirror returns the swapped view of bid.
func (l *Loader) Mirror(bid BatID) (*Column, error) { return l.Pool.Mirror(bid) }

// QuickDesc returns bid's metadata without materializing heaps.
func (l *Loader) QuickDesc(bid BatID) (*Column, error) { return l.Pool.QuickDesc(bid) }

// Unfix decrements bid's memory-reference count.
func (l *Loader) Unfix(bid BatID) error { return l.Pool.Unfix(bid) }

// Retain increments bid's logical-reference count.
func (l *Loader) Retain(bid BatID) error { return l.Pool.Retain(bid) }

// Release decrements bid's logical-reference count.
func (l *Loader) Release(bid BatID) error { return l.Pool.Release(bid) }

type stderrWriter struct{}

func (stderrWriter) Write(p []byte) (int, error) { return osStderrWrite(p) }
