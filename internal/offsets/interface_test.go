package offsets

import (
	"testing"

	"github.com/ashgrove/cs2obs/internal/addr"
)

// buildInterfaceFixture lays out a minimal ELF module exporting
// CreateInterface, whose linked list holds one non-matching entry
// followed by a match for matchedName, to exercise
// createInterfaceOffset end to end. Writes into f (created fresh if
// nil) so multiple modules can coexist in one address space.
func buildInterfaceFixture(t *testing.T, f *fakeHandle, base addr.Address, matchedName string) (*fakeHandle, addr.Address) {
	t.Helper()
	if f == nil {
		f = newFakeHandle(0)
	}

	// ELF header + section header table: module size 0x2000.
	f.putString(base, "\x7FELF")
	f.putU64(base.AddU64(0x28), 0x2000)
	f.grow(int(base.U64()) + 0x2000)

	// Program header table: one PT_DYNAMIC entry.
	const phtRel = 0x300
	f.putU64(base.AddU64(0x20), phtRel)
	f.putU16At(base.AddU64(0x36), 0x38)
	f.putU16At(base.AddU64(0x38), 1)

	phEntry := base.AddU64(phtRel)
	const dynSectionRel = 0x500
	f.putU32(phEntry, PTDynamicForTest)
	f.putU64(phEntry.AddU64(16), dynSectionRel)

	// Dynamic section: STRTAB, SYMTAB, terminator.
	const strtabAddr = 0x900
	const symtabAddr = 0xA00
	dynStart := base.AddU64(dynSectionRel)
	f.putU64(dynStart, 5) // DT_STRTAB
	f.putU64(dynStart.AddU64(8), strtabAddr)
	f.putU64(dynStart.AddU64(16), 6) // DT_SYMTAB
	f.putU64(dynStart.AddU64(24), symtabAddr)
	f.putU64(dynStart.AddU64(32), 0)

	strtab := addr.FromU64(strtabAddr)
	f.putString(strtab.AddU64(1), "CreateInterface")

	// Symbol table: null entry, then CreateInterface.
	symtab := addr.FromU64(symtabAddr)
	f.putU64(symtab, 0)
	f.putU64(symtab.AddU64(8), 0)
	symEntry := symtab.AddU64(0x18)
	f.putU32(symEntry, 1)
	const createInterfaceRel = 0x50
	f.putU64(symEntry.AddU64(0x08), createInterfaceRel)
	terminator := symEntry.AddU64(0x18)
	f.putU32(terminator, 0)

	createInterface := base.AddU64(createInterfaceRel)

	// CreateInterface's body: RIP-relative operand at +1 (5-byte instruction).
	const head0Rel = 0x700
	disp1 := int32(head0Rel) - int32(createInterfaceRel) - 5
	f.putI32(createInterface.AddU64(1), disp1)
	head := base.AddU64(head0Rel).AddU64(0x10)

	// head+3 holds a u32 displacement added to head+7 to find the first entry.
	const firstEntryPtrRel = 0x27
	f.putU32(head.AddU64(3), firstEntryPtrRel-7)
	entry1 := base.AddU64(0x800)
	f.putU64(head.AddU64(firstEntryPtrRel), entry1.U64())

	// entry1: a non-matching interface.
	otherName := base.AddU64(0x850)
	f.putString(otherName, "SomeOtherInterface")
	f.putU64(entry1.AddU64(8), otherName.U64())
	entry2 := base.AddU64(0x900)
	f.putU64(entry1.AddU64(0x10), entry2.U64())

	// entry2: the interface the caller is looking for.
	matchName := base.AddU64(0x950)
	f.putString(matchName, matchedName)
	f.putU64(entry2.AddU64(8), matchName.U64())
	f.putU64(entry2.AddU64(0x10), 0) // end of list if no match, unused here
	vfunc := base.AddU64(0xB00)
	f.putU64(entry2, vfunc.U64())

	// vfunc's body: RIP-relative operand at +3 (7-byte instruction) yields the interface object.
	resource := base.AddU64(0xC00)
	disp2 := int32(resource.U64()-base.U64()) - 0xB00 - 7
	f.putI32(vfunc.AddU64(3), disp2)

	return f, resource
}

// PTDynamicForTest avoids importing elfscan just for one constant in tests.
const PTDynamicForTest = 2

func TestCreateInterfaceOffset(t *testing.T) {
	base := addr.FromU64(0x20000)
	f, wantResource := buildInterfaceFixture(t, nil, base, "GameResourceServiceClientV0")
	f.modules[EngineLib] = base

	got, err := createInterfaceOffset(f, base, "GameResourceServiceClientV0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wantResource {
		t.Fatalf("got %#x, want %#x", got.U64(), wantResource.U64())
	}
}

func TestCreateInterfaceOffsetNotFound(t *testing.T) {
	base := addr.FromU64(0x20000)
	f, _ := buildInterfaceFixture(t, nil, base, "GameResourceServiceClientV0")
	f.modules[EngineLib] = base

	if _, err := createInterfaceOffset(f, base, "NoSuchInterface"); err == nil {
		t.Fatal("expected error for an interface absent from the linked list")
	}
}

// TestResolveInterfaceEndToEnd builds two coexisting modules (engine and
// tier0) in one fakeHandle and exercises resolveInterface's full
// derivation of InterfaceOffsets from their CreateInterface registries.
func TestResolveInterfaceEndToEnd(t *testing.T) {
	engineBase := addr.FromU64(0x20000)
	f, wantResource := buildInterfaceFixture(t, nil, engineBase, "GameResourceServiceClientV0")
	f.modules[EngineLib] = engineBase

	tier0Base := addr.FromU64(0x40000)
	_, wantConvar := buildInterfaceFixture(t, f, tier0Base, "VEngineCvar0")
	f.modules[Tier0Lib] = tier0Base

	const entityPtr = 0x77000
	f.putU64(wantResource.AddU64(entityOffset), entityPtr)
	f.modules[ClientLib] = addr.FromU64(0x10000)

	lib, err := resolveLibrary(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	iface, err := resolveInterface(f, lib)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iface.Resource != wantResource {
		t.Fatalf("Resource: got %#x, want %#x", iface.Resource.U64(), wantResource.U64())
	}
	if iface.Entity != addr.FromU64(entityPtr) {
		t.Fatalf("Entity: got %#x, want %#x", iface.Entity.U64(), entityPtr)
	}
	if iface.Player != addr.FromU64(entityPtr).AddU64(0x10) {
		t.Fatalf("Player: got %#x, want entity+0x10", iface.Player.U64())
	}
	if iface.Convar != wantConvar {
		t.Fatalf("Convar: got %#x, want %#x", iface.Convar.U64(), wantConvar.U64())
	}
}
