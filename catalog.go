package bbp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// currentGeneration is the newest BBP.dir format generation this loader
// understands, expressed as the unsigned octal value the file itself
// carries on its header line. Only this exact generation is accepted;
// every other generation is rejected with the upgrade directive, because
// accepting an older layout would require the very on-disk fixups this
// read-only loader refuses to perform.
const currentGeneration uint64 = 0o62043

// rejectedGenerations names the structural-compatibility break each older
// generation would require this loader to paper over: re-sorted
// indication, WKB format change, 64->128-bit integer upgrade, nil->NaN
// float change, and so on. The table is ordered oldest-to-newest and the
// order matters: a generation maps to the first entry whose upTo bound it
// does not exceed, not to an exact generation match, since the exact
// boundary each carries isn't pinned down by a concrete BBP.dir to
// consult (see DESIGN.md).
var rejectedGenerations = []struct {
	upTo uint64
	name string
}{
	{0o60000, "HEADED (head-column descriptors)"},
	{0o60400, "INSERTED (inserted/deleted BUN positions)"},
	{0o61000, "BADEMPTY"},
	{0o61400, "NOKEY"},
	{0o62000, "INET_COMPARE"},
	{0o62020, "OLDWKB"},
	{0o62030, "NIL_NAN (nil-as-NaN float encoding)"},
	{0o62040, "64_BIT_INT (64->128-bit integer upgrade)"},
	{0o62042, "TALIGN"},
	{0o62043, "SORTEDPOS"},
}

func generationReason(gen uint64) string {
	for _, r := range rejectedGenerations {
		if gen <= r.upTo {
			return r.name
		}
	}
	return "unrecognized generation"
}

// Header carries the three fixed lines at the top of BBP.dir.
type Header struct {
	Generation uint64
	PtrSize    int
	OidSize    int
	IntSize    int
	OidSeed    uint64
	BBPSize    uint64
}

// Catalog is the parsed contents of BBP.dir: the header plus every
// column record it names.
type Catalog struct {
	Header  Header
	Columns []*Column
}

// ParseCatalog reads <farmDir>/bat/BACKUP/BBP.dir and builds a Catalog.
// Absence of that file is reported as ErrMissingCatalog; a format
// generation this loader doesn't understand is fatal with the standard
// upgrade directive.
func ParseCatalog(farmDir string, registry *AtomRegistry, ptrSize, oidSize, intSize int) (*Catalog, error) {
	path, err := farmPath(farmDir, "bat/BACKUP", "BBP", "dir")
	if err != nil {
		return nil, err
	}
	f, err := openReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingCatalog, path, err)
	}
	defer f.Close()
	return parseCatalogReader(f, registry, ptrSize, oidSize, intSize)
}

func parseCatalogReader(r io.Reader, registry *AtomRegistry, ptrSize, oidSize, intSize int) (*Catalog, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	hdr, err := parseHeader(sc)
	if err != nil {
		return nil, err
	}
	if hdr.Generation != currentGeneration {
		return nil, reject(ErrUnsupportedGeneration,
			"BBP.dir generation 0%o requires %s", hdr.Generation, generationReason(hdr.Generation))
	}
	if hdr.PtrSize != ptrSize || hdr.OidSize != oidSize || hdr.IntSize > intSize {
		return nil, reject(ErrSizeMismatch,
			"catalog ptr=%d oid=%d int=%d vs build ptr=%d oid=%d int(max)=%d",
			hdr.PtrSize, hdr.OidSize, hdr.IntSize, ptrSize, oidSize, intSize)
	}

	cat := &Catalog{Header: *hdr}
	lineNo := 3
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		col, err := parseColumnLine(line, registry)
		if err != nil {
			return nil, fmt.Errorf("BBP.dir:%d: %w", lineNo, err)
		}
		cat.Columns = append(cat.Columns, col)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return cat, nil
}

func parseHeader(sc *bufio.Scanner) (*Header, error) {
	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing header line 1", ErrParse)
	}
	l1 := strings.TrimRight(sc.Text(), "\r")
	fields := strings.Fields(l1)
	if len(fields) < 3 || !strings.HasPrefix(fields[0], "BBP.dir") || fields[1] != "GDKversion" {
		return nil, fmt.Errorf("%w: malformed header line 1: %q", ErrParse, l1)
	}
	gen, err := strconv.ParseUint(fields[2], 8, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad GDKversion %q: %v", ErrParse, fields[2], err)
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing header line 2", ErrParse)
	}
	l2 := strings.TrimRight(sc.Text(), "\r")
	fields = strings.Fields(l2)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: header line 2 wants 3 fields, got %d", ErrParse, len(fields))
	}
	ptrSize, err1 := strconv.Atoi(fields[0])
	oidSize, err2 := strconv.Atoi(fields[1])
	intSize, err3 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, fmt.Errorf("%w: header line 2 not all integers: %q", ErrParse, l2)
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing header line 3", ErrParse)
	}
	l3 := strings.TrimRight(sc.Text(), "\r")
	fields = strings.Fields(l3)
	if len(fields) < 1 {
		return nil, fmt.Errorf("%w: header line 3 missing OID seed: %q", ErrParse, l3)
	}
	seed, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad OID seed %q: %v", ErrParse, fields[0], err)
	}
	var bbpSize uint64
	for _, f := range fields[1:] {
		if v, ok := strings.CutPrefix(f, "BBPsize="); ok {
			bbpSize, err = strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad BBPsize %q: %v", ErrParse, v, err)
			}
		}
	}

	return &Header{
		Generation: gen,
		PtrSize:    ptrSize,
		OidSize:    oidSize,
		IntSize:    intSize,
		OidSeed:    seed,
		BBPSize:    bbpSize,
	}, nil
}

// tokenCursor walks a pre-split token slice, making the sequential,
// partially-optional column grammar easy to express without manual
// index bookkeeping at every call site.
type tokenCursor struct {
	tok []string
	pos int
}

func (c *tokenCursor) next() (string, bool) {
	if c.pos >= len(c.tok) {
		return "", false
	}
	t := c.tok[c.pos]
	c.pos++
	return t, true
}

func (c *tokenCursor) remaining() []string { return c.tok[c.pos:] }

func (c *tokenCursor) nextInt() (int64, error) {
	t, ok := c.next()
	if !ok {
		return 0, fmt.Errorf("%w: expected integer field, ran out of tokens", ErrParse)
	}
	v, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrParse, t)
	}
	return v, nil
}

func (c *tokenCursor) nextUint() (uint64, error) {
	t, ok := c.next()
	if !ok {
		return 0, fmt.Errorf("%w: expected integer field, ran out of tokens", ErrParse)
	}
	v, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected unsigned integer, got %q", ErrParse, t)
	}
	return v, nil
}

// parseColumnLine parses one BBP.dir column record in the newest
// generation's grammar:
//
//	<bat-id> <status> <logical-name> <physical-stem> <properties>
//	<count> <capacity> <base-oid>
//	<type-name> <width> <varsized> <props-bits>
//	<nokey0> <nokey1> <nosorted> <norevsorted>
//	<seqbase> <free> <size> <storage-enum>
//	[<vheap-free> <vheap-size> <vheap-storage>]
//	[ <options-string>]
func parseColumnLine(line string, registry *AtomRegistry) (*Column, error) {
	c := &tokenCursor{tok: strings.Fields(line)}
	if len(c.tok) < 20 {
		return nil, fmt.Errorf("%w: column record has %d fields, need at least 20", ErrParse, len(c.tok))
	}

	batID, err := c.nextInt()
	if err != nil {
		return nil, err
	}
	if _, ok := c.next(); !ok { // status, unused by this read-only loader
		return nil, fmt.Errorf("%w: missing status field", ErrParse)
	}
	logicalName, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing logical name", ErrParse)
	}
	physicalStem, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing physical stem", ErrParse)
	}
	properties, err := c.nextUint()
	if err != nil {
		return nil, err
	}

	count, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	capacity, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	baseOid, err := c.nextUint()
	if err != nil {
		return nil, err
	}

	typeName, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing type name", ErrParse)
	}
	width, err := c.nextInt()
	if err != nil {
		return nil, err
	}
	varsizedFlag, err := c.nextInt()
	if err != nil {
		return nil, err
	}
	propsBits, err := c.nextUint()
	if err != nil {
		return nil, err
	}

	nokey0, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	nokey1, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	nosorted, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	norevsorted, err := c.nextUint()
	if err != nil {
		return nil, err
	}

	seqbase, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	free, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	size, err := c.nextUint()
	if err != nil {
		return nil, err
	}
	storageTok, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("%w: missing storage enum", ErrParse)
	}
	storage, err := parseStorageMode(storageTok)
	if err != nil {
		return nil, err
	}

	typeTag := registry.IndexOf(typeName)
	if typeName == "hge" && !hgeSupported {
		return nil, reject(ErrUnknownAtom, "column %s has unsupported hge type", logicalName)
	}

	col, err := NewColumn(BatID(batID), logicalName, normalizeSeparators(physicalStem), typeTag, int(width), varsizedFlag != 0)
	if err != nil {
		return nil, err
	}
	col.Count = count
	col.Capacity = capacity
	col.ShareCount = 0
	_ = baseOid
	sorted, revSorted, key, dense, nonil, nilv, access, err := decodeProperties(uint32(propsBits))
	if err != nil {
		return nil, err
	}
	col.Sorted, col.RevSorted, col.Key, col.Dense, col.Nonil, col.Nil = sorted, revSorted, key, dense, nonil, nilv
	col.Access = access
	col.Persistence = Persistent // BBP.dir only records persistent columns
	col.NoKey = [2]uint64{nokey0, nokey1}
	col.NoSorted = nosorted
	col.NoRevSorted = norevsorted
	if dense {
		col.SeqBase = seqbase
	}
	_ = properties // superseded by the explicit propsBits field; retained for the status prefix shape

	col.Heap = Heap{Free: free, Size: size, Filename: col.PhysicalStem, Storage: storage, NewStorage: storage}

	if col.Varsized {
		vfree, err := c.nextUint()
		if err != nil {
			return nil, err
		}
		vsize, err := c.nextUint()
		if err != nil {
			return nil, err
		}
		vstorageTok, ok := c.next()
		if !ok {
			return nil, fmt.Errorf("%w: missing vheap storage enum", ErrParse)
		}
		vstorage, err := parseStorageMode(vstorageTok)
		if err != nil {
			return nil, err
		}
		col.VHeap = &Heap{Free: vfree, Size: vsize, Filename: col.PhysicalStem, Storage: vstorage, NewStorage: vstorage}
		if col.Type == TagStr {
			col.VHeap.HasHash = true
			col.VHeap.CleanHash = true
		}
	}

	if rest := c.remaining(); len(rest) > 0 {
		col.Options = strings.Join(rest, " ")
	}

	return col, nil
}

func parseStorageMode(tok string) (StorageMode, error) {
	switch strings.ToUpper(tok) {
	case "MEM", "0":
		return StorageMem, nil
	case "MMAP", "1":
		return StorageMmap, nil
	case "PRIV", "2":
		return StoragePriv, nil
	default:
		return StorageErr, fmt.Errorf("%w: unknown storage mode %q", ErrParse, tok)
	}
}
