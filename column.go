package bbp

import "fmt"

// Property bits packed into a BBP.dir column's properties field. Bits
// outside propertyMask, other than the access-restriction bits
// (propAccessMask), indicate an incompatible database.
const (
	propSorted      = 0x0001
	propAccessMask  = 0x0006
	propAccessShift = 1
	propRevSorted   = 0x0080
	propKey         = 0x0100
	propDense       = 0x0200
	propNonil       = 0x0400
	propNil         = 0x0800
	propertyMask    = 0x0F81
)

// Column combines a BAT's static identity with its derived metadata.
type Column struct {
	ID           BatID
	LogicalName  string
	PhysicalStem string

	Type     Tag
	Width    int
	Shift    int
	Varsized bool

	Count, Capacity                           uint64
	Sorted, RevSorted, Key, Dense, Nonil, Nil  bool
	NoKey                                      [2]uint64
	NoSorted, NoRevSorted                      uint64
	SeqBase                                    uint64 // oid "nil" sentinel means "not dense"

	Access      AccessMode
	Persistence Persistence
	ShareCount  int

	Heap  Heap
	VHeap *Heap

	Options string
}

// DenseSeqBaseNil marks SeqBase as "this column is not a dense void
// sequence", mirroring the source's OID-nil-as-sentinel convention.
const DenseSeqBaseNil = ^uint64(0)

// IsDenseVoid reports whether c is a dense void sequence: a void-typed
// column whose logical contents are the contiguous OID range
// [SeqBase, SeqBase+Count) and which therefore requires zero storage.
func (c *Column) IsDenseVoid() bool {
	return c.Type == TagVoid && c.SeqBase != DenseSeqBaseNil
}

// VoidAt returns SeqBase+p for a dense void column.
func (c *Column) VoidAt(p uint64) (uint64, error) {
	if !c.IsDenseVoid() {
		return 0, fmt.Errorf("%w: column is not a dense void sequence", ErrNotLoaded)
	}
	if p >= c.Count {
		return 0, fmt.Errorf("%w: position %d out of range [0,%d)", ErrAtomParse, p, c.Count)
	}
	return c.SeqBase + p, nil
}

// decodeProperties unpacks the packed 12-bit properties field, rejecting
// any bit outside propertyMask as an incompatible database. The
// access-restriction bits (0x0006) are ordinary field bits, not a
// compatibility signal, so they're allowed alongside propertyMask; see
// DESIGN.md for why excluding them would reject every APPEND/WRITE
// column.
func decodeProperties(bits uint32) (sorted, revSorted, key, dense, nonil, nilv bool, access AccessMode, err error) {
	if bits&^uint32(propertyMask|propAccessMask) != 0 {
		err = reject(ErrPropertyBits, "properties 0x%04x outside mask 0x%04x", bits, propertyMask)
		return
	}
	sorted = bits&propSorted != 0
	revSorted = bits&propRevSorted != 0
	key = bits&propKey != 0
	dense = bits&propDense != 0
	nonil = bits&propNonil != 0
	nilv = bits&propNil != 0
	access = AccessMode((bits & propAccessMask) >> propAccessShift)
	return
}

// NewColumn builds a Column from parsed catalog fields, deriving Shift
// from Width and asserting the width/shift invariant.
func NewColumn(id BatID, logicalName, physicalStem string, typeTag Tag, width int, varsized bool) (*Column, error) {
	shift, ok := elmshift(width)
	if !ok {
		return nil, fmt.Errorf("%w: width %d is not a power of two", ErrBadShift, width)
	}
	return &Column{
		ID:           id,
		LogicalName:  logicalName,
		PhysicalStem: physicalStem,
		Type:         typeTag,
		Width:        width,
		Shift:        shift,
		Varsized:     varsized,
		SeqBase:      DenseSeqBaseNil,
	}, nil
}

// Valid reports whether c is a valid column: its logical name is present
// and does not begin with '.'.
func (c *Column) Valid() bool {
	return c != nil && c.LogicalName != "" && c.LogicalName[0] != '.'
}
