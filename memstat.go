package bbp

import "sync/atomic"

// MemStats is the tracked-allocation accounting for one Loader instance:
// a running count of owned-memory bytes and mapped VM bytes. The source
// keeps this in a hidden size prefix on every allocation so free() can
// decrement a process-global counter; a garbage-collected runtime doesn't
// need the hidden prefix, only the counters, so this struct keeps those
// and nothing else.
type MemStats struct {
	bytesInUse int64
	vmBytes    int64
}

// BytesInUse returns the number of bytes currently held in owned (MEM)
// heap buffers.
func (m *MemStats) BytesInUse() int64 { return atomic.LoadInt64(&m.bytesInUse) }

// VMBytes returns the number of bytes currently mapped via mmap.
func (m *MemStats) VMBytes() int64 { return atomic.LoadInt64(&m.vmBytes) }

func (m *MemStats) alloc(n int) []byte {
	atomic.AddInt64(&m.bytesInUse, int64(n))
	return make([]byte, n)
}

func (m *MemStats) free(b []byte) {
	if b == nil {
		return
	}
	atomic.AddInt64(&m.bytesInUse, -int64(cap(b)))
}

func (m *MemStats) mapped(n int) {
	atomic.AddInt64(&m.vmBytes, int64(n))
}

func (m *MemStats) unmapped(n int) {
	atomic.AddInt64(&m.vmBytes, -int64(n))
}
