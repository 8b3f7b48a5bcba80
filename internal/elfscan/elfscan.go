// Package elfscan provides the low-level primitives for reading ELF
// structure out of a live process's memory — program headers, the
// dynamic section, the symbol table — plus the byte-pattern scanning
// and RIP-relative resolution used to locate code sites that have no
// exported symbol at all.
//
// None of this touches disk. Every read goes through a MemoryReader
// backed by a snapshot already sitting at its natural load address, so
// offsets below are exactly the ones a disassembler would show against
// a running process.
package elfscan

import (
	"fmt"

	"github.com/ashgrove/cs2obs/internal/addr"
)

// Tag values used against the dynamic section and program header table.
const (
	PTDynamic = 2 // Program header p_type for PT_DYNAMIC
	DTStrtab  = 5 // Dynamic tag for the string table address
	DTSymtab  = 6 // Dynamic tag for the symbol table address
)

const (
	elfProgramHeaderOffset     = 0x20
	elfProgramHeaderEntrySize  = 0x36
	elfProgramHeaderNumEntries = 0x38

	elfSectionHeaderOffset     = 0x28
	elfSectionHeaderEntrySize  = 0x3A
	elfSectionHeaderNumEntries = 0x3C

	symbolTableEntrySize = 0x18
	addressSize          = 0x08
	registerSize         = 8
)

// MemoryReader is the slice of procfs.ProcessHandle this package needs.
// It is declared locally so elfscan has no compile-time dependency on
// procfs and can be exercised against fabricated buffers in tests.
type MemoryReader interface {
	ReadBytes(a addr.Address, count int) ([]byte, error)
	ReadU8(a addr.Address) (uint8, error)
	ReadU16(a addr.Address) (uint16, error)
	ReadU32(a addr.Address) (uint32, error)
	ReadI32(a addr.Address) (int32, error)
	ReadU64(a addr.Address) (uint64, error)
	ReadString(a addr.Address) (string, error)
}

// CheckHeader reports whether data begins with the ELF magic number.
func CheckHeader(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return data[0] == 0x7F && data[1] == 0x45 && data[2] == 0x4C && data[3] == 0x46
}

// ModuleSize computes a loaded module's in-memory footprint from its
// section header table location, as sh_offset + sh_entsize*sh_num.
func ModuleSize(m MemoryReader, base addr.Address) (uint64, error) {
	shOffset, err := m.ReadU64(base.AddU64(elfSectionHeaderOffset))
	if err != nil {
		return 0, fmt.Errorf("read section header offset: %w", err)
	}
	entSize, err := m.ReadU16(base.AddU64(elfSectionHeaderEntrySize))
	if err != nil {
		return 0, fmt.Errorf("read section header entry size: %w", err)
	}
	numEntries, err := m.ReadU16(base.AddU64(elfSectionHeaderNumEntries))
	if err != nil {
		return 0, fmt.Errorf("read section header entry count: %w", err)
	}
	return shOffset + uint64(entSize)*uint64(numEntries), nil
}

// DumpModule reads a module's entire in-memory image in one call.
func DumpModule(m MemoryReader, base addr.Address) ([]byte, error) {
	size, err := ModuleSize(m, base)
	if err != nil {
		return nil, err
	}
	data, err := m.ReadBytes(base, int(size))
	if err != nil {
		return nil, fmt.Errorf("dump module at %#x (%d bytes): %w", base.U64(), size, err)
	}
	return data, nil
}

// ProgramHeaderLookup walks a module's program header table and returns
// the address of the first entry whose p_type equals tag.
func ProgramHeaderLookup(m MemoryReader, base addr.Address, tag uint32) (addr.Address, error) {
	phtRelOffset, err := m.ReadU64(base.AddU64(elfProgramHeaderOffset))
	if err != nil {
		return addr.Null, fmt.Errorf("read program header table offset: %w", err)
	}
	firstEntry := base.AddU64(phtRelOffset)

	entrySize, err := m.ReadU16(base.AddU64(elfProgramHeaderEntrySize))
	if err != nil {
		return addr.Null, fmt.Errorf("read program header entry size: %w", err)
	}
	numEntries, err := m.ReadU16(base.AddU64(elfProgramHeaderNumEntries))
	if err != nil {
		return addr.Null, fmt.Errorf("read program header entry count: %w", err)
	}

	for i := uint16(0); i < numEntries; i++ {
		entry := firstEntry.AddU64(uint64(i) * uint64(entrySize))
		pType, err := m.ReadU32(entry)
		if err != nil {
			return addr.Null, fmt.Errorf("read p_type at %#x: %w", entry.U64(), err)
		}
		if pType == tag {
			return entry, nil
		}
	}
	return addr.Null, fmt.Errorf("tag %#x not found in program header table", tag)
}

// DynamicTagLookup locates the PT_DYNAMIC segment, then scans its
// (tag, value) pairs for the requested tag. The returned value is
// already an absolute address — dynamic-section values are not
// base-relative the way program-header fields are.
func DynamicTagLookup(m MemoryReader, base addr.Address, tag uint64) (addr.Address, error) {
	dynSegment, err := ProgramHeaderLookup(m, base, PTDynamic)
	if err != nil {
		return addr.Null, fmt.Errorf("locate dynamic segment: %w", err)
	}

	dynSectionStart, err := m.ReadU64(dynSegment.AddU64(2 * registerSize))
	if err != nil {
		return addr.Null, fmt.Errorf("read dynamic section base: %w", err)
	}
	cursor := addr.FromU64(dynSectionStart).AddU64(base.U64())

	for {
		tagValue, err := m.ReadU64(cursor)
		if err != nil {
			return addr.Null, fmt.Errorf("read dynamic tag at %#x: %w", cursor.U64(), err)
		}
		if tagValue == 0 {
			return addr.Null, fmt.Errorf("tag %#x not found in dynamic section", tag)
		}
		if tagValue == tag {
			value, err := m.ReadU64(cursor.AddU64(registerSize))
			if err != nil {
				return addr.Null, fmt.Errorf("read dynamic value at %#x: %w", cursor.U64(), err)
			}
			return addr.FromU64(value), nil
		}
		cursor = cursor.AddU64(2 * registerSize)
	}
}

// SymbolLookup resolves name to an absolute address via the module's
// dynamic symbol table, skipping the null first entry and terminating
// on the first entry with a zero name offset.
func SymbolLookup(m MemoryReader, base addr.Address, name string) (addr.Address, error) {
	strtab, err := DynamicTagLookup(m, base, DTStrtab)
	if err != nil {
		return addr.Null, fmt.Errorf("resolve STRTAB: %w", err)
	}
	symtab, err := DynamicTagLookup(m, base, DTSymtab)
	if err != nil {
		return addr.Null, fmt.Errorf("resolve SYMTAB: %w", err)
	}

	cursor := symtab.AddU64(symbolTableEntrySize)
	for {
		stNameOffset, err := m.ReadU32(cursor)
		if err != nil {
			return addr.Null, fmt.Errorf("read st_name at %#x: %w", cursor.U64(), err)
		}
		if stNameOffset == 0 {
			return addr.Null, fmt.Errorf("symbol %q not found", name)
		}

		candidate, err := m.ReadString(strtab.AddU64(uint64(stNameOffset)))
		if err != nil {
			return addr.Null, fmt.Errorf("read symbol name at %#x: %w", cursor.U64(), err)
		}
		if candidate == name {
			value, err := m.ReadU64(cursor.AddU64(addressSize))
			if err != nil {
				return addr.Null, fmt.Errorf("read symbol value at %#x: %w", cursor.U64(), err)
			}
			return addr.FromU64(value).AddU64(base.U64()), nil
		}

		cursor = cursor.AddU64(symbolTableEntrySize)
	}
}

// ResolveRIPRelative reads a signed 32-bit displacement at
// instruction+operandOffset and returns the RIP-relative target:
// instruction + instructionLength + sign_extend(displacement), with
// wrapping arithmetic matching what the CPU itself would compute.
func ResolveRIPRelative(m MemoryReader, instruction addr.Address, operandOffset, instructionLength uint64) (addr.Address, error) {
	disp, err := m.ReadI32(instruction.AddU64(operandOffset))
	if err != nil {
		return addr.Null, fmt.Errorf("read displacement at %#x: %w", instruction.AddU64(operandOffset).U64(), err)
	}
	return instruction.AddU64(instructionLength).AddU64(uint64(int64(disp))), nil
}

// ScanPattern slides pattern across data looking for the first offset
// where every byte masked 'x' matches exactly; any other mask byte is
// a wildcard. It reports ok=false rather than an error when pattern
// and mask are valid but no match exists.
func ScanPattern(data, pattern, mask []byte) (offset int, ok bool, err error) {
	if len(pattern) != len(mask) {
		return 0, false, fmt.Errorf("pattern is %d bytes, mask is %d bytes: lengths must match", len(pattern), len(mask))
	}
	if len(pattern) == 0 || len(data) < len(pattern) {
		return 0, false, nil
	}

	for i := 0; i+len(pattern) <= len(data); i++ {
		matched := true
		for j := range pattern {
			if mask[j] == 'x' && data[i+j] != pattern[j] {
				matched = false
				break
			}
		}
		if matched {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// ScanPatternInModule dumps base's module image and runs ScanPattern
// against it, returning the match as an absolute address.
func ScanPatternInModule(m MemoryReader, base addr.Address, pattern, mask []byte) (addr.Address, error) {
	data, err := DumpModule(m, base)
	if err != nil {
		return addr.Null, fmt.Errorf("dump module for pattern scan: %w", err)
	}
	offset, ok, err := ScanPattern(data, pattern, mask)
	if err != nil {
		return addr.Null, err
	}
	if !ok {
		return addr.Null, fmt.Errorf("pattern not found in module at %#x", base.U64())
	}
	return base.AddU64(uint64(offset)), nil
}
