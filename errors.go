package bbp

import (
	"errors"
	"fmt"
)

// Sentinel errors, grouped by kind: programming errors, incompatible
// on-disk state, truncated/missing files, parse errors, and atom-value
// parse failures.
var (
	// Programming errors: the loader is single-threaded; observing these
	// means a caller violated that contract.
	ErrRecursiveLoad = errors.New("recursive heap load on single-threaded loader")
	ErrDoubleFree    = errors.New("double free detected")

	// Incompatible on-disk state: fatal, paired with the upgrade directive.
	ErrUnsupportedGeneration = errors.New("unsupported BBP.dir format generation")
	ErrSizeMismatch          = errors.New("pointer/OID/int size mismatch")
	ErrPropertyBits          = errors.New("property bits outside supported mask")
	ErrFreeExceedsSize       = errors.New("heap free exceeds size")
	ErrHashMismatch          = errors.New("string heap hash prefix mismatch")
	ErrBadShift              = errors.New("element shift does not match width")

	// Truncated or missing file: a plain failure return.
	ErrShortRead      = errors.New("short read")
	ErrMissingCatalog = errors.New("BBP.dir not found")
	ErrMissingData    = errors.New("data file missing")

	// Parse error in a BBP.dir line.
	ErrParse = errors.New("malformed BBP.dir line")

	// Allocation / mmap failure.
	ErrAlloc = errors.New("allocation failed")

	// Atom-value parse failure (never fatal). The parse functions return
	// it together with a zero value, not the atom's nil.
	ErrAtomParse = errors.New("atom value parse failure")

	ErrAbsoluteName = errors.New("path name must not be absolute")
	ErrInvalidBatID = errors.New("invalid BAT id")
	ErrNotLoaded    = errors.New("column not loaded")
	ErrUnknownAtom  = errors.New("unknown atom")
)

// upgradeDirective is the fixed suffix every incompatible-on-disk-state
// error carries: the loader cannot write back a fixup, so the only
// remedy is the full DBMS.
const upgradeDirective = "run the full DBMS first to upgrade this database"

// reject builds a fatal incompatible-state error carrying the upgrade
// directive, wrapping base so callers can still errors.Is against it.
func reject(base error, format string, args ...any) error {
	return fmt.Errorf("%s: %w (%s)", fmt.Sprintf(format, args...), base, upgradeDirective)
}
