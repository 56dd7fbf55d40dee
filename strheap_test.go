package bbp

import (
	"encoding/binary"
	"testing"
)

// buildStringHeap lays out strs sequentially starting at hashPrefixStart,
// each preceded by a backlink+hash header and 8-byte aligned and
// NUL-terminated, then fills in a freshly computed hash prefix, returning
// the heap bytes and the final free offset. The header bytes themselves
// are left zero: this read-only loader never walks the collision chain
// or trusts an on-disk hash value, it only needs to skip past them.
func buildStringHeap(t *testing.T, strs []string) ([]byte, uint64) {
	t.Helper()
	const header = backlinkSize + hashFieldSize
	base := make([]byte, hashPrefixStart)
	off := uint64(hashPrefixStart)
	for _, s := range strs {
		off += header
		for uint64(len(base)) < off {
			base = append(base, 0)
		}
		base = append(base, s...)
		base = append(base, 0)
		off += uint64(len(s)) + 1
		off = align8(off)
		for uint64(len(base)) < off {
			base = append(base, 0)
		}
	}
	free := off

	prefix, err := stringHashPrefix(base, free, true)
	if err != nil {
		t.Fatalf("stringHashPrefix: %v", err)
	}
	for i, v := range prefix {
		binary.LittleEndian.PutUint32(base[i*4:i*4+4], v)
	}
	return base, free
}

func TestStringHeapDuplicateElimination(t *testing.T) {
	base, free := buildStringHeap(t, []string{"foo", "bar"})

	h := &Heap{Base: base, Free: free, Size: uint64(len(base)), HasHash: true, CleanHash: true}
	if err := VerifyHashPrefix(h); err != nil {
		t.Fatalf("VerifyHashPrefix on freshly built heap: %v", err)
	}

	firstOffset := uint64(hashPrefixStart) + entryHeaderSize(true)
	bucket := stringHash([]byte("foo")) & hashPrefixMask
	got := binary.LittleEndian.Uint32(base[bucket*4 : bucket*4+4])
	if uint64(got) != firstOffset {
		t.Fatalf("bucket for \"foo\" = %d, want %d", got, firstOffset)
	}

	s, err := StringAt(base, firstOffset)
	if err != nil || s != "foo" {
		t.Fatalf("StringAt(first offset) = %q, %v, want \"foo\"", s, err)
	}
}

func TestStringHeapHashMismatchRejected(t *testing.T) {
	base, free := buildStringHeap(t, []string{"foo", "bar"})
	base[0] ^= 0xff // corrupt the prefix

	h := &Heap{Base: base, Free: free, Size: uint64(len(base)), HasHash: true, CleanHash: true}
	if err := VerifyHashPrefix(h); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func TestStringHeapSkipsVerifyWhenNotClean(t *testing.T) {
	base, free := buildStringHeap(t, []string{"foo"})
	base[0] ^= 0xff

	h := &Heap{Base: base, Free: free, Size: uint64(len(base)), HasHash: true, CleanHash: false}
	if err := VerifyHashPrefix(h); err != nil {
		t.Fatalf("CleanHash=false must skip verification: %v", err)
	}
}

func TestValidateUTF8(t *testing.T) {
	valid := [][]byte{
		{0x00}, {0x7f},
		{0xc2, 0x80},     // U+0080, shortest 2-byte form
		{0xe0, 0xa0, 0x80}, // U+0800, shortest 3-byte form
		{0xf0, 0x90, 0x80, 0x80}, // U+10000, shortest 4-byte form
		{0xf4, 0x8f, 0xbf, 0xbf}, // U+10FFFF, the maximum code point
	}
	for _, v := range valid {
		if err := ValidateUTF8(v); err != nil {
			t.Fatalf("ValidateUTF8(% x) = %v, want nil", v, err)
		}
	}

	invalid := [][]byte{
		{0xc0, 0x80},             // overlong encoding of NUL
		{0xe0, 0x80, 0x80},       // overlong encoding
		{0xed, 0xa0, 0x80},       // surrogate U+D800
		{0xed, 0xbf, 0xbf},       // surrogate U+DFFF
		{0xf4, 0x90, 0x80, 0x80}, // U+110000, above U+10FFFF
		{0xff},                   // invalid leading byte
	}
	for _, v := range invalid {
		if err := ValidateUTF8(v); err == nil {
			t.Fatalf("ValidateUTF8(% x) = nil, want error", v)
		}
	}
}

func TestParseStringEscapes(t *testing.T) {
	s, isNil, err := ParseString(`"a\nb\tc\\d\x41"`)
	if err != nil {
		t.Fatal(err)
	}
	if isNil {
		t.Fatal("did not expect nil")
	}
	want := "a\nb\tc\\dA"
	if s != want {
		t.Fatalf("ParseString = %q, want %q", s, want)
	}
}

func TestParseStringNil(t *testing.T) {
	_, isNil, err := ParseString("nil")
	if err != nil {
		t.Fatal(err)
	}
	if !isNil {
		t.Fatal("expected nil")
	}
}

func TestParseStringUnicodeEscape(t *testing.T) {
	s, _, err := ParseString(`"\u{41}\U{1F600}"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) == 0 {
		t.Fatal("expected decoded string")
	}
}
