package bbp

// BatID identifies a column. Positive values denote a normal view;
// negative values denote the mirror view of the same physical column with
// head/tail swapped. Zero is reserved as nil/invalid.
type BatID int32

// Mirror returns the BAT-ID of bid's swapped view.
func (bid BatID) Mirror() BatID { return -bid }

// AccessMode is the access-restriction recorded on a column.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessAppend
	AccessWrite
)

// Persistence records whether a column survives a restart.
type Persistence int

const (
	Transient Persistence = iota
	Persistent
)
