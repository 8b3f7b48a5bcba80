package elfscan

import (
	"encoding/binary"
	"testing"

	"github.com/ashgrove/cs2obs/internal/addr"
)

// fakeMemory backs MemoryReader with a flat buffer addressed from base 0,
// standing in for a live process snapshot in tests.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (f *fakeMemory) grow(n int) {
	if n > len(f.buf) {
		grown := make([]byte, n)
		copy(grown, f.buf)
		f.buf = grown
	}
}

func (f *fakeMemory) putU16(a addr.Address, v uint16) {
	f.grow(int(a.U64()) + 2)
	binary.LittleEndian.PutUint16(f.buf[a.U64():], v)
}

func (f *fakeMemory) putU32(a addr.Address, v uint32) {
	f.grow(int(a.U64()) + 4)
	binary.LittleEndian.PutUint32(f.buf[a.U64():], v)
}

func (f *fakeMemory) putU64(a addr.Address, v uint64) {
	f.grow(int(a.U64()) + 8)
	binary.LittleEndian.PutUint64(f.buf[a.U64():], v)
}

func (f *fakeMemory) putBytes(a addr.Address, b []byte) {
	f.grow(int(a.U64()) + len(b))
	copy(f.buf[a.U64():], b)
}

func (f *fakeMemory) ReadBytes(a addr.Address, count int) ([]byte, error) {
	end := int(a.U64()) + count
	if end > len(f.buf) {
		return nil, errShortRead
	}
	out := make([]byte, count)
	copy(out, f.buf[a.U64():end])
	return out, nil
}

var errShortRead = &readError{"short read"}

type readError struct{ msg string }

func (e *readError) Error() string { return e.msg }

func (f *fakeMemory) ReadU8(a addr.Address) (uint8, error) {
	b, err := f.ReadBytes(a, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *fakeMemory) ReadU16(a addr.Address) (uint16, error) {
	b, err := f.ReadBytes(a, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (f *fakeMemory) ReadU32(a addr.Address) (uint32, error) {
	b, err := f.ReadBytes(a, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (f *fakeMemory) ReadI32(a addr.Address) (int32, error) {
	v, err := f.ReadU32(a)
	return int32(v), err
}

func (f *fakeMemory) ReadU64(a addr.Address) (uint64, error) {
	b, err := f.ReadBytes(a, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (f *fakeMemory) ReadString(a addr.Address) (string, error) {
	start := int(a.U64())
	end := start
	for end < len(f.buf) && f.buf[end] != 0 {
		end++
	}
	if start >= len(f.buf) {
		return "", errShortRead
	}
	return string(f.buf[start:end]), nil
}

func TestCheckHeader(t *testing.T) {
	if !CheckHeader([]byte{0x7F, 0x45, 0x4C, 0x46, 0x02, 0x01}) {
		t.Fatal("expected valid ELF magic to be accepted")
	}
	if CheckHeader([]byte{0x7F, 0x45, 0x4C}) {
		t.Fatal("expected short input to be rejected")
	}
	if CheckHeader([]byte{0x00, 0x45, 0x4C, 0x46}) {
		t.Fatal("expected wrong magic to be rejected")
	}
}

func TestScanPatternStrictVsWildcard(t *testing.T) {
	data := []byte{0x00, 0xAA, 0xCC, 0xBB, 0xAA, 0x00, 0xBB}
	pattern := []byte{0xAA, 0x00, 0xBB}

	// Strict: only the window at index 4 (0xAA 0x00 0xBB) matches exactly.
	off, ok, err := ScanPattern(data, pattern, []byte("xxx"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || off != 4 {
		t.Fatalf("strict scan: got offset=%d ok=%v, want 4/true", off, ok)
	}

	// Wildcard on the middle byte lets the near-miss at index 1 match first.
	off, ok, err = ScanPattern(data, pattern, []byte("x?x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || off != 1 {
		t.Fatalf("wildcard scan: got offset=%d ok=%v, want 1/true", off, ok)
	}
}

func TestScanPatternLengthMismatch(t *testing.T) {
	_, _, err := ScanPattern([]byte{1, 2, 3}, []byte{1, 2}, []byte("xxx"))
	if err == nil {
		t.Fatal("expected error on mismatched pattern/mask lengths")
	}
}

func TestScanPatternNoMatch(t *testing.T) {
	_, ok, err := ScanPattern([]byte{1, 2, 3}, []byte{9, 9}, []byte("xx"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestResolveRIPRelativePositive(t *testing.T) {
	m := newFakeMemory(0x2000)
	instr := addr.FromU64(0x1000)
	m.putU32(instr.AddU64(1), 0x00000005) // E8 05 00 00 00

	target, err := ResolveRIPRelative(m, instr, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.U64() != 0x100A {
		t.Fatalf("got %#x, want %#x", target.U64(), 0x100A)
	}
}

func TestResolveRIPRelativeNegative(t *testing.T) {
	m := newFakeMemory(0x2000)
	instr := addr.FromU64(0x1000)
	m.putU32(instr.AddU64(1), 0xFFFFFFFE) // E8 FE FF FF FF (-2)

	target, err := ResolveRIPRelative(m, instr, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.U64() != 0x1003 {
		t.Fatalf("got %#x, want %#x", target.U64(), 0x1003)
	}
}

// buildFakeELF lays out a minimal program header table (one PT_DYNAMIC
// entry), a dynamic section with STRTAB/SYMTAB tags, a string table, and
// a two-entry symbol table (skipping the mandatory null first entry).
func buildFakeELF(t *testing.T, base addr.Address) (*fakeMemory, addr.Address, addr.Address) {
	t.Helper()
	m := newFakeMemory(0x4000)

	const (
		phtRelOffset = 0x200
		phEntrySize  = 0x38
		phNumEntries = 1

		dynSectionRel = 0x400 // PT_DYNAMIC's "third u64" (p_vaddr), relative to base
		strtabAddr    = 0x900
		symtabAddr    = 0xA00
	)

	m.putU64(base.AddU64(elfProgramHeaderOffset), phtRelOffset)
	m.putU16(base.AddU64(elfProgramHeaderEntrySize), phEntrySize)
	m.putU16(base.AddU64(elfProgramHeaderNumEntries), phNumEntries)

	phEntry := base.AddU64(phtRelOffset)
	m.putU32(phEntry, PTDynamic) // p_type
	// p_offset (unused), then p_vaddr at entry+16 (the "third u64").
	m.putU64(phEntry.AddU64(2*registerSize), dynSectionRel)

	dynStart := base.AddU64(dynSectionRel)
	// (DT_STRTAB, strtabAddr), (DT_SYMTAB, symtabAddr), (0, 0) terminator.
	m.putU64(dynStart, uint64(DTStrtab))
	m.putU64(dynStart.AddU64(8), strtabAddr)
	m.putU64(dynStart.AddU64(16), uint64(DTSymtab))
	m.putU64(dynStart.AddU64(24), symtabAddr)
	m.putU64(dynStart.AddU64(32), 0)
	m.putU64(dynStart.AddU64(40), 0)

	strtab := addr.FromU64(strtabAddr)
	m.putBytes(strtab.AddU64(1), []byte("CreateInterface\x00"))

	symtab := addr.FromU64(symtabAddr)
	// Null first entry, skipped unconditionally.
	m.putU64(symtab, 0)
	m.putU64(symtab.AddU64(8), 0)

	entry := symtab.AddU64(symbolTableEntrySize)
	m.putU32(entry, 1) // st_name -> strtab+1 -> "CreateInterface"
	m.putU64(entry.AddU64(addressSize), 0x1234)

	// Terminator entry (st_name == 0).
	terminator := entry.AddU64(symbolTableEntrySize)
	m.putU32(terminator, 0)

	return m, strtab, symtab
}

func TestProgramHeaderAndDynamicLookup(t *testing.T) {
	base := addr.FromU64(0x5000)
	m, wantStrtab, wantSymtab := buildFakeELF(t, base)

	strtab, err := DynamicTagLookup(m, base, DTStrtab)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strtab != wantStrtab {
		t.Fatalf("STRTAB: got %#x, want %#x", strtab.U64(), wantStrtab.U64())
	}

	symtab, err := DynamicTagLookup(m, base, DTSymtab)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if symtab != wantSymtab {
		t.Fatalf("SYMTAB: got %#x, want %#x", symtab.U64(), wantSymtab.U64())
	}
}

func TestSymbolLookup(t *testing.T) {
	base := addr.FromU64(0x5000)
	m, _, _ := buildFakeELF(t, base)

	got, err := SymbolLookup(m, base, "CreateInterface")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := base.AddU64(0x1234)
	if got != want {
		t.Fatalf("got %#x, want %#x", got.U64(), want.U64())
	}

	if _, err := SymbolLookup(m, base, "DoesNotExist"); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestModuleSizeAndDump(t *testing.T) {
	base := addr.FromU64(0x6000)
	m := newFakeMemory(0x7000)
	m.putBytes(base, []byte{0x7F, 0x45, 0x4C, 0x46})
	m.putU64(base.AddU64(elfSectionHeaderOffset), 0x100)
	m.putU16(base.AddU64(elfSectionHeaderEntrySize), 0x40)
	m.putU16(base.AddU64(elfSectionHeaderNumEntries), 2)

	size, err := ModuleSize(m, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := uint64(0x100 + 0x40*2); size != want {
		t.Fatalf("got %#x, want %#x", size, want)
	}

	dump, err := DumpModule(m, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dump) != int(size) {
		t.Fatalf("dump length %d, want %d", len(dump), size)
	}
	if !CheckHeader(dump) {
		t.Fatal("dumped module should pass the ELF header check")
	}
}
