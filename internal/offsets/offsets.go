// Package offsets bootstraps every address the game interface needs
// from nothing but three module base addresses: the interface
// registry, the entity table root, the convar registry, the local
// player controller, and the per-class netvar field table. None of
// this is read from a schema file — it is rediscovered by walking
// live memory every time the process attaches.
package offsets

import (
	"fmt"
	"strings"

	"github.com/ashgrove/cs2obs/internal/addr"
	"github.com/ashgrove/cs2obs/internal/elfscan"
)

// Shared object filenames the library phase resolves base addresses for.
const (
	ClientLib = "libclient.so"
	EngineLib = "libengine2.so"
	Tier0Lib  = "libtier0.so"
)

const entityOffset = 0x50 // GameResourceServiceClientV0's entity list pointer, relative to its resolved interface object

// MemoryReader is the memory access surface the resolution phases need.
type MemoryReader = elfscan.MemoryReader

// ProcessHandle is the full surface offsets.Resolve needs: raw memory
// access plus module base-address lookup by filename.
type ProcessHandle interface {
	MemoryReader
	ModuleBase(moduleName string) (addr.Address, error)
}

// LibraryOffsets holds the three module bases every later phase is
// anchored to.
type LibraryOffsets struct {
	Client addr.Address
	Engine addr.Address
	Tier0  addr.Address
}

// InterfaceOffsets holds the addresses resolved via the CreateInterface
// registry walk.
type InterfaceOffsets struct {
	Resource addr.Address
	Entity   addr.Address
	Player   addr.Address
	Convar   addr.Address
}

// DirectOffsets holds addresses found by scanning code directly rather
// than through an exported interface.
type DirectOffsets struct {
	LocalController addr.Address
}

// ControllerOffsets are netvar field displacements within a player
// controller entity.
type ControllerOffsets struct {
	PlayerName          addr.Address
	Pawn                addr.Address
	CompTeammateColor   addr.Address
	Ping                addr.Address
	InGameMoneyServices addr.Address
	SteamID             addr.Address
}

// PawnOffsets are netvar field displacements within a player pawn entity.
type PawnOffsets struct {
	Health           addr.Address
	ArmorValue       addr.Address
	TeamNum          addr.Address
	LifeState        addr.Address
	ClippingWeapon   addr.Address
	OldOrigin        addr.Address
	EyeAngles        addr.Address
	WeaponServices   addr.Address
	ObserverServices addr.Address
	ItemServices     addr.Address
}

// WeaponServiceOffsets are netvar field displacements within a pawn's
// weapon services object.
type WeaponServiceOffsets struct {
	ActiveWeapon addr.Address
	MyWeapons    addr.Address
}

// MoneyServiceOffsets are netvar field displacements within a
// controller's money services object.
type MoneyServiceOffsets struct {
	Account addr.Address
}

// ObserverServiceOffsets are netvar field displacements within a pawn's
// observer services object.
type ObserverServiceOffsets struct {
	ObserverTarget addr.Address
}

// ItemServiceOffsets are netvar field displacements within a pawn's
// item services object.
type ItemServiceOffsets struct {
	HasDefuser addr.Address
	HasHelmet  addr.Address
}

// NetvarOffsets groups every per-class field displacement discovered
// by the netvar scan. Every field is set exactly once.
type NetvarOffsets struct {
	Controller      ControllerOffsets
	Pawn            PawnOffsets
	WeaponService   WeaponServiceOffsets
	MoneyService    MoneyServiceOffsets
	ObserverService ObserverServiceOffsets
	ItemService     ItemServiceOffsets
}

// Offsets is the complete, immutable result of a bootstrap run.
type Offsets struct {
	Library   LibraryOffsets
	Interface InterfaceOffsets
	Direct    DirectOffsets
	Netvar    NetvarOffsets
	Convars   map[string]addr.Address
}

// Resolve runs the five resolution phases in order: library,
// interface, direct, netvar, convar. Any phase failing is fatal —
// there is no partial result.
func Resolve(p ProcessHandle) (*Offsets, error) {
	lib, err := resolveLibrary(p)
	if err != nil {
		return nil, fmt.Errorf("library phase: %w", err)
	}

	iface, err := resolveInterface(p, lib)
	if err != nil {
		return nil, fmt.Errorf("interface phase: %w", err)
	}

	direct, err := resolveDirect(p, lib)
	if err != nil {
		return nil, fmt.Errorf("direct phase: %w", err)
	}

	netvar, err := resolveNetvar(p, lib)
	if err != nil {
		return nil, fmt.Errorf("netvar phase: %w", err)
	}

	convars, err := resolveConvars(p, iface)
	if err != nil {
		return nil, fmt.Errorf("convar phase: %w", err)
	}

	return &Offsets{
		Library:   lib,
		Interface: iface,
		Direct:    direct,
		Netvar:    netvar,
		Convars:   convars,
	}, nil
}

// ConvarValueStr reads a convar's current value as a string, per §4.4's
// "convar value read": the descriptor's string value lives 64 bytes
// past the descriptor address. Returns ok=false if the name is unknown.
func (o *Offsets) ConvarValueStr(p MemoryReader, name string) (value string, ok bool, err error) {
	descriptor, found := o.Convars[name]
	if !found {
		return "", false, nil
	}
	s, err := p.ReadString(descriptor.AddU64(64))
	if err != nil {
		return "", false, fmt.Errorf("read convar %q value: %w", name, err)
	}
	return s, true, nil
}

func resolveLibrary(p ProcessHandle) (LibraryOffsets, error) {
	var lib LibraryOffsets
	var err error

	if lib.Client, err = p.ModuleBase(ClientLib); err != nil {
		return LibraryOffsets{}, fmt.Errorf("locate %s: %w", ClientLib, err)
	}
	if lib.Engine, err = p.ModuleBase(EngineLib); err != nil {
		return LibraryOffsets{}, fmt.Errorf("locate %s: %w", EngineLib, err)
	}
	if lib.Tier0, err = p.ModuleBase(Tier0Lib); err != nil {
		return LibraryOffsets{}, fmt.Errorf("locate %s: %w", Tier0Lib, err)
	}

	return lib, nil
}

func resolveInterface(p ProcessHandle, lib LibraryOffsets) (InterfaceOffsets, error) {
	var iface InterfaceOffsets

	resource, err := createInterfaceOffset(p, lib.Engine, "GameResourceServiceClientV0")
	if err != nil {
		return iface, fmt.Errorf("resolve GameResourceServiceClientV0: %w", err)
	}
	iface.Resource = resource

	entityPtr, err := p.ReadU64(resource.AddU64(entityOffset))
	if err != nil {
		return iface, fmt.Errorf("read entity list pointer: %w", err)
	}
	iface.Entity = addr.FromU64(entityPtr)
	iface.Player = iface.Entity.AddU64(0x10)

	convar, err := createInterfaceOffset(p, lib.Tier0, "VEngineCvar0")
	if err != nil {
		return iface, fmt.Errorf("resolve VEngineCvar0: %w", err)
	}
	iface.Convar = convar

	return iface, nil
}

// createInterfaceOffset resolves interfaceName via the CreateInterface
// export's linked list of registered interfaces. See §4.3's interface
// phase for the exact layout this walks.
func createInterfaceOffset(p ProcessHandle, moduleBase addr.Address, interfaceName string) (addr.Address, error) {
	data, err := elfscan.DumpModule(p, moduleBase)
	if err != nil {
		return addr.Null, fmt.Errorf("dump module: %w", err)
	}
	if !elfscan.CheckHeader(data) {
		return addr.Null, fmt.Errorf("invalid ELF header at %#x", moduleBase.U64())
	}

	createInterface, err := elfscan.SymbolLookup(p, moduleBase, "CreateInterface")
	if err != nil {
		return addr.Null, fmt.Errorf("resolve CreateInterface export: %w", err)
	}

	head, err := elfscan.ResolveRIPRelative(p, createInterface, 1, 5)
	if err != nil {
		return addr.Null, fmt.Errorf("resolve interface list head: %w", err)
	}
	head = head.AddU64(0x10)

	entryDisplacement, err := p.ReadU32(head.AddU64(3))
	if err != nil {
		return addr.Null, fmt.Errorf("read interface list displacement: %w", err)
	}
	entryPtr, err := p.ReadU64(head.AddU64(7).AddU64(uint64(entryDisplacement)))
	if err != nil {
		return addr.Null, fmt.Errorf("read initial interface entry: %w", err)
	}
	entry := addr.FromU64(entryPtr)

	for {
		nameAddrRaw, err := p.ReadU64(entry.AddU64(8))
		if err != nil {
			return addr.Null, fmt.Errorf("read interface entry name address: %w", err)
		}
		name, err := p.ReadString(addr.FromU64(nameAddrRaw))
		if err != nil {
			return addr.Null, fmt.Errorf("read interface entry name: %w", err)
		}

		if strings.HasPrefix(name, interfaceName) {
			vfunc, err := p.ReadU64(entry)
			if err != nil {
				return addr.Null, fmt.Errorf("read vfunc table: %w", err)
			}
			return elfscan.ResolveRIPRelative(p, addr.FromU64(vfunc), 3, 7)
		}

		next, err := p.ReadU64(entry.AddU64(0x10))
		if err != nil {
			return addr.Null, fmt.Errorf("read next interface entry: %w", err)
		}
		if next == 0 {
			return addr.Null, fmt.Errorf("interface %q not found", interfaceName)
		}
		entry = addr.FromU64(next)
	}
}

func resolveDirect(p ProcessHandle, lib LibraryOffsets) (DirectOffsets, error) {
	pattern := []byte{0x48, 0x83, 0x3D, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0F, 0x95, 0xC0, 0xC3}
	mask := []byte("xxx????xxxxx")

	match, err := elfscan.ScanPatternInModule(p, lib.Client, pattern, mask)
	if err != nil {
		return DirectOffsets{}, fmt.Errorf("scan for local controller pattern: %w", err)
	}

	localController, err := elfscan.ResolveRIPRelative(p, match, 3, 8)
	if err != nil {
		return DirectOffsets{}, fmt.Errorf("resolve local controller target: %w", err)
	}

	return DirectOffsets{LocalController: localController}, nil
}

func resolveConvars(p ProcessHandle, iface InterfaceOffsets) (map[string]addr.Address, error) {
	if iface.Convar.IsNull() {
		return nil, fmt.Errorf("convar interface offset has not been set")
	}

	objectsRaw, err := p.ReadU64(iface.Convar.AddU64(0x40))
	if err != nil {
		return nil, fmt.Errorf("read convar object array: %w", err)
	}
	objects := addr.FromU64(objectsRaw)

	count, err := p.ReadU64(iface.Convar.AddU64(0xA0))
	if err != nil {
		return nil, fmt.Errorf("read convar count: %w", err)
	}

	convars := make(map[string]addr.Address, count)
	for i := uint64(0); i < count; i++ {
		objectRaw, err := p.ReadU64(objects.AddU64(i * 0x10))
		if err != nil {
			return nil, fmt.Errorf("read convar object %d: %w", i, err)
		}
		object := addr.FromU64(objectRaw)
		if object.IsNull() {
			break
		}

		nameAddrRaw, err := p.ReadU64(object)
		if err != nil {
			return nil, fmt.Errorf("read convar name address %d: %w", i, err)
		}
		name, err := p.ReadString(addr.FromU64(nameAddrRaw))
		if err != nil {
			return nil, fmt.Errorf("read convar name %d: %w", i, err)
		}

		convars[name] = object
	}

	return convars, nil
}
