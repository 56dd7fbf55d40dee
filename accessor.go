package bbp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ElementAt returns the raw little-endian bit pattern of the fixed-width
// element at position i, along with whether it equals the atom's nil
// value. Dense void columns compute their value instead of indexing a
// heap.
func (c *Column) ElementAt(i uint64, registry *AtomRegistry) (uint64, bool, error) {
	if c.IsDenseVoid() {
		v, err := c.VoidAt(i)
		return v, false, err
	}
	if c.Varsized {
		return 0, false, fmt.Errorf("%w: column is variable-width, use StringAtIndex", ErrAtomParse)
	}
	if i >= c.Count {
		return 0, false, fmt.Errorf("%w: position %d out of range [0,%d)", ErrAtomParse, i, c.Count)
	}
	if c.Heap.Base == nil {
		return 0, false, fmt.Errorf("%w: BAT %d heap not loaded", ErrNotLoaded, c.ID)
	}
	off := i << uint(c.Shift)
	if off+uint64(c.Width) > uint64(len(c.Heap.Base)) {
		return 0, false, fmt.Errorf("%w: position %d beyond heap bounds", ErrAtomParse, i)
	}
	raw := widen(c.Heap.Base[off : off+uint64(c.Width)])
	return raw, raw == registry.NilBits(c.Type)&widthMask(c.Width), nil
}

func widen(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		var v uint64
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
}

func widthMask(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return uint64(1)<<(uint(width)*8) - 1
}

// StringAtIndex returns the string stored at logical position i of a
// variable-width column, resolving the offset stored in the primary
// heap into the auxiliary heap.
func (c *Column) StringAtIndex(i uint64) (string, error) {
	if !c.Varsized {
		return "", fmt.Errorf("%w: column is fixed-width", ErrAtomParse)
	}
	if i >= c.Count {
		return "", fmt.Errorf("%w: position %d out of range [0,%d)", ErrAtomParse, i, c.Count)
	}
	if c.Heap.Base == nil || c.VHeap == nil || c.VHeap.Base == nil {
		return "", fmt.Errorf("%w: BAT %d heaps not loaded", ErrNotLoaded, c.ID)
	}
	off := i << uint(c.Shift)
	if off+uint64(c.Width) > uint64(len(c.Heap.Base)) {
		return "", fmt.Errorf("%w: position %d beyond heap bounds", ErrAtomParse, i)
	}
	voff := widen(c.Heap.Base[off : off+uint64(c.Width)])
	return StringAt(c.VHeap.Base, voff)
}
