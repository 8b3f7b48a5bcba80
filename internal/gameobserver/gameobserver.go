// Package gameobserver walks the resolved offsets on every tick to
// produce player snapshots. It never writes to the target and never
// caches a pointer across ticks — every Player is built fresh from the
// current entity table.
package gameobserver

import (
	"fmt"
	"math"

	"github.com/ashgrove/cs2obs/internal/addr"
	"github.com/ashgrove/cs2obs/internal/offsets"
)

// Team mirrors the in-game team byte (1=Spectator, 2=Terrorist,
// 3=CounterTerrorist). The zero value has no meaning and never occurs
// in a returned Player — an unrecognized byte drops the player instead.
type Team uint8

const (
	TeamSpectator Team = iota + 1
	TeamTerrorist
	TeamCounterTerrorist
)

func (t Team) String() string {
	switch t {
	case TeamSpectator:
		return "Spectator"
	case TeamTerrorist:
		return "Terrorist"
	case TeamCounterTerrorist:
		return "CounterTerrorist"
	default:
		return "Unknown"
	}
}

// LifeState mirrors the in-game life-state byte. Dead is the default so
// an unrecognized byte degrades to the safest assumption.
type LifeState uint8

const (
	LifeStateAlive LifeState = iota
	LifeStateDying
	LifeStateDead
	LifeStateRespawnable
	LifeStateDiscardBody
)

func (ls LifeState) String() string {
	switch ls {
	case LifeStateAlive:
		return "Alive"
	case LifeStateDying:
		return "Dying"
	case LifeStateRespawnable:
		return "Respawnable"
	case LifeStateDiscardBody:
		return "DiscardBody"
	default:
		return "Dead"
	}
}

// Vec3 is a world-space position or angle triple.
type Vec3 struct {
	X, Y, Z float32
}

// Player is a flat snapshot of one entity-table slot, rebuilt from
// scratch every tick.
type Player struct {
	Name          string
	Health        int32
	Armor         int32
	Money         int32
	Team          Team
	LifeState     LifeState
	Weapon        string
	Weapons       []string
	HasDefuser    bool
	HasHelmet     bool
	Color         int32
	Position      Vec3
	Rotation      float32
	Ping          int32
	SteamID       uint64
	ActivePlayer  bool
	IsLocalPlayer bool
}

// MemoryReader is the memory access surface the per-tick walk needs.
type MemoryReader = offsets.MemoryReader

const maxEntityIndex = 64

// entityTableEntrySize is the stride between slots in the two-level
// entity table's lower-level array.
const entityTableEntrySize = 120

// Observer walks the resolved offsets to produce player snapshots. It
// holds no per-tick state; every call to Players rereads the target
// from scratch.
type Observer struct {
	mem MemoryReader
	off *offsets.Offsets
}

// New returns an Observer bound to mem and off. off must be a complete
// result from offsets.Resolve.
func New(mem MemoryReader, off *offsets.Offsets) *Observer {
	return &Observer{mem: mem, off: off}
}

// clientEntity resolves index via the generic two-level entity table
// lookup rooted at interface.entity. Returns addr.Null, false if either
// level is absent.
func (o *Observer) clientEntity(index uint64) (addr.Address, bool, error) {
	bucketPtr := o.off.Interface.Entity.AddU64(8*(index>>9) + 0x10)
	bucketRaw, err := o.mem.ReadU64(bucketPtr)
	if err != nil {
		return addr.Null, false, fmt.Errorf("read entity bucket: %w", err)
	}
	bucket := addr.FromU64(bucketRaw)
	if bucket.IsNull() {
		return addr.Null, false, nil
	}

	entryRaw, err := o.mem.ReadU64(bucket.AddU64(entityTableEntrySize * (index & 0x1FF)))
	if err != nil {
		return addr.Null, false, fmt.Errorf("read entity entry: %w", err)
	}
	entity := addr.FromU64(entryRaw)
	if entity.IsNull() {
		return addr.Null, false, nil
	}
	return entity, true, nil
}

// handleEntity resolves a 15-bit handle index through interface.player.
// It adds no +0x10 bias to the bucket pointer because interface.player
// is already interface.entity+0x10, so it walks the same two-level
// table as clientEntity. It is the lookup the pawn and spectator-target
// handles share; unlike clientEntity it does not check the bucket
// pointer for null.
func (o *Observer) handleEntity(index uint64) (addr.Address, error) {
	bucketRaw, err := o.mem.ReadU64(o.off.Interface.Player.AddU64(8 * (index >> 9)))
	if err != nil {
		return addr.Null, fmt.Errorf("read handle bucket: %w", err)
	}
	bucket := addr.FromU64(bucketRaw)

	entryRaw, err := o.mem.ReadU64(bucket.AddU64(entityTableEntrySize * (index & 0x1FF)))
	if err != nil {
		return addr.Null, fmt.Errorf("read handle entry: %w", err)
	}
	return addr.FromU64(entryRaw), nil
}

// pawnFromController resolves a controller's m_hPawn handle through the
// player sub-table.
func (o *Observer) pawnFromController(controller addr.Address) (addr.Address, error) {
	handle, err := o.mem.ReadU32(controller.AddU64(o.off.Netvar.Controller.Pawn.U64()))
	if err != nil {
		return addr.Null, fmt.Errorf("read m_hPawn: %w", err)
	}
	return o.handleEntity(uint64(handle) & 0x7FFF)
}

// spectatorTarget resolves localPawn's observer target pawn, if any.
func (o *Observer) spectatorTarget(localPawn addr.Address) (addr.Address, bool, error) {
	obsRaw, err := o.mem.ReadU64(localPawn.AddU64(o.off.Netvar.Pawn.ObserverServices.U64()))
	if err != nil {
		return addr.Null, false, fmt.Errorf("read m_pObserverServices: %w", err)
	}
	obs := addr.FromU64(obsRaw)
	if obs.IsNull() {
		return addr.Null, false, nil
	}

	targetRaw, err := o.mem.ReadU32(obs.AddU64(o.off.Netvar.ObserverService.ObserverTarget.U64()))
	if err != nil {
		return addr.Null, false, fmt.Errorf("read m_hObserverTarget: %w", err)
	}
	target := uint64(targetRaw) & 0x7FFF
	if target == 0 {
		return addr.Null, false, nil
	}

	entity, err := o.handleEntity(target)
	if err != nil {
		return addr.Null, false, err
	}
	if entity.IsNull() {
		return addr.Null, false, nil
	}
	return entity, true, nil
}

// readF32 reads a little-endian IEEE-754 float32. MemoryReader exposes
// only integer and string reads, so floats are decoded from the raw
// bits here rather than widening the shared interface.
func readF32(m MemoryReader, a addr.Address) (float32, error) {
	bits, err := m.ReadU32(a)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func clampRange(v, lo, hi int32) int32 {
	if v < lo || v > hi {
		return 0
	}
	return v
}

func teamFromByte(b uint8) (Team, bool) {
	switch b {
	case 1:
		return TeamSpectator, true
	case 2:
		return TeamTerrorist, true
	case 3:
		return TeamCounterTerrorist, true
	default:
		return 0, false
	}
}

func lifeStateFromByte(b uint8) LifeState {
	switch b {
	case 0:
		return LifeStateAlive
	case 1:
		return LifeStateDying
	case 2:
		return LifeStateDead
	case 3:
		return LifeStateRespawnable
	case 4:
		return LifeStateDiscardBody
	default:
		return LifeStateDead
	}
}

// weaponName follows m_pClippingWeapon-style pointer: an entity
// instance -> +0x10 CEntityIdentity -> +0x20 designer-name string.
func (o *Observer) weaponName(weaponInstance addr.Address) (string, error) {
	identityRaw, err := o.mem.ReadU64(weaponInstance.AddU64(0x10))
	if err != nil {
		return "", fmt.Errorf("read CEntityIdentity: %w", err)
	}
	identity := addr.FromU64(identityRaw)
	if identity.IsNull() {
		return "", nil
	}

	namePtrRaw, err := o.mem.ReadU64(identity.AddU64(0x20))
	if err != nil {
		return "", fmt.Errorf("read designer name pointer: %w", err)
	}
	namePtr := addr.FromU64(namePtrRaw)
	if namePtr.IsNull() {
		return "", nil
	}

	return o.mem.ReadString(namePtr)
}

func (o *Observer) weapon(pawn addr.Address) (string, error) {
	weaponRaw, err := o.mem.ReadU64(pawn.AddU64(o.off.Netvar.Pawn.ClippingWeapon.U64()))
	if err != nil {
		return "", fmt.Errorf("read m_pClippingWeapon: %w", err)
	}
	weaponInstance := addr.FromU64(weaponRaw)
	if weaponInstance.IsNull() {
		return "", nil
	}
	return o.weaponName(weaponInstance)
}

// weapons resolves the m_hMyWeapons (size, ptr) pair and each handle's
// designer name. The & 0xFFF mask (rather than the usual 0x7FFF) is
// preserved exactly as found upstream — its reason is unknown.
func (o *Observer) weapons(pawn addr.Address) ([]string, error) {
	servicesRaw, err := o.mem.ReadU64(pawn.AddU64(o.off.Netvar.Pawn.WeaponServices.U64()))
	if err != nil {
		return nil, fmt.Errorf("read m_pWeaponServices: %w", err)
	}
	services := addr.FromU64(servicesRaw)
	if services.IsNull() {
		return nil, nil
	}

	myWeapons := services.AddU64(o.off.Netvar.WeaponService.MyWeapons.U64())
	size, err := o.mem.ReadU64(myWeapons)
	if err != nil {
		return nil, fmt.Errorf("read m_hMyWeapons size: %w", err)
	}
	vectorRaw, err := o.mem.ReadU64(myWeapons.AddU64(0x08))
	if err != nil {
		return nil, fmt.Errorf("read m_hMyWeapons data pointer: %w", err)
	}
	vector := addr.FromU64(vectorRaw)

	var names []string
	for i := uint64(0); i < size; i++ {
		raw, err := o.mem.ReadU32(vector.AddU64(i * 0x04))
		if err != nil {
			return nil, fmt.Errorf("read weapon handle %d: %w", i, err)
		}
		index := uint64(raw) & 0xFFF

		entity, ok, err := o.clientEntity(index)
		if err != nil {
			return nil, fmt.Errorf("resolve weapon entity %d: %w", i, err)
		}
		if !ok {
			continue
		}
		name, err := o.weaponName(entity)
		if err != nil {
			return nil, fmt.Errorf("resolve weapon name %d: %w", i, err)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// player builds a full snapshot from a controller/pawn pair. Returns
// ok=false if the team byte is unrecognized — per §4.4, team is
// required and an unknown value drops the player entirely.
func (o *Observer) player(controller, pawn addr.Address) (Player, bool, error) {
	teamByte, err := o.mem.ReadU8(pawn.AddU64(o.off.Netvar.Pawn.TeamNum.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_iTeamNum: %w", err)
	}
	team, ok := teamFromByte(teamByte)
	if !ok {
		return Player{}, false, nil
	}

	var p Player
	p.Team = team

	namePtrRaw, err := o.mem.ReadU64(controller.AddU64(o.off.Netvar.Controller.PlayerName.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_sSanitizedPlayerName pointer: %w", err)
	}
	namePtr := addr.FromU64(namePtrRaw)
	if namePtr.IsNull() {
		p.Name = "Unknown"
	} else {
		name, err := o.mem.ReadString(namePtr)
		if err != nil {
			return Player{}, false, fmt.Errorf("read player name: %w", err)
		}
		p.Name = name
	}

	health, err := o.mem.ReadI32(pawn.AddU64(o.off.Netvar.Pawn.Health.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_iHealth: %w", err)
	}
	p.Health = clampRange(health, 0, 100)

	armor, err := o.mem.ReadI32(pawn.AddU64(o.off.Netvar.Pawn.ArmorValue.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_ArmorValue: %w", err)
	}
	p.Armor = clampRange(armor, 0, 100)

	moneyServicesRaw, err := o.mem.ReadU64(controller.AddU64(o.off.Netvar.Controller.InGameMoneyServices.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_pInGameMoneyServices: %w", err)
	}
	moneyServices := addr.FromU64(moneyServicesRaw)
	if moneyServices.IsNull() {
		p.Money = 0
	} else {
		money, err := o.mem.ReadI32(moneyServices.AddU64(o.off.Netvar.MoneyService.Account.U64()))
		if err != nil {
			return Player{}, false, fmt.Errorf("read m_iAccount: %w", err)
		}
		p.Money = clampRange(money, 0, 99999)
	}

	lifeStateByte, err := o.mem.ReadU8(pawn.AddU64(o.off.Netvar.Pawn.LifeState.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_lifeState: %w", err)
	}
	p.LifeState = lifeStateFromByte(lifeStateByte)

	weapon, err := o.weapon(pawn)
	if err != nil {
		p.Weapon = "Unknown" // field-local: weapon resolution failures degrade to a placeholder
	} else if weapon == "" {
		p.Weapon = "Unknown"
	} else {
		p.Weapon = weapon
	}

	weapons, err := o.weapons(pawn)
	if err != nil {
		return Player{}, false, fmt.Errorf("read weapons: %w", err)
	}
	p.Weapons = weapons

	itemServicesRaw, err := o.mem.ReadU64(pawn.AddU64(o.off.Netvar.Pawn.ItemServices.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_pItemServices: %w", err)
	}
	itemServices := addr.FromU64(itemServicesRaw)
	if !itemServices.IsNull() {
		defuser, err := o.mem.ReadU8(itemServices.AddU64(o.off.Netvar.ItemService.HasDefuser.U64()))
		if err != nil {
			return Player{}, false, fmt.Errorf("read m_bHasDefuser: %w", err)
		}
		p.HasDefuser = defuser != 0

		helmet, err := o.mem.ReadU8(itemServices.AddU64(o.off.Netvar.ItemService.HasHelmet.U64()))
		if err != nil {
			return Player{}, false, fmt.Errorf("read m_bHasHelmet: %w", err)
		}
		p.HasHelmet = helmet != 0
	}

	color, err := o.mem.ReadI32(controller.AddU64(o.off.Netvar.Controller.CompTeammateColor.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_iCompTeammateColor: %w", err)
	}
	p.Color = color

	posBase := pawn.AddU64(o.off.Netvar.Pawn.OldOrigin.U64())
	x, err := readF32(o.mem, posBase)
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_vOldOrigin.x: %w", err)
	}
	y, err := readF32(o.mem, posBase.AddU64(0x04))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_vOldOrigin.y: %w", err)
	}
	z, err := readF32(o.mem, posBase.AddU64(0x08))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_vOldOrigin.z: %w", err)
	}
	p.Position = Vec3{X: x, Y: y, Z: z}

	rotation, err := readF32(o.mem, pawn.AddU64(o.off.Netvar.Pawn.EyeAngles.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_angEyeAngles: %w", err)
	}
	p.Rotation = rotation

	ping, err := o.mem.ReadI32(controller.AddU64(o.off.Netvar.Controller.Ping.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_iPing: %w", err)
	}
	p.Ping = ping

	steamID, err := o.mem.ReadU64(controller.AddU64(o.off.Netvar.Controller.SteamID.U64()))
	if err != nil {
		return Player{}, false, fmt.Errorf("read m_steamID: %w", err)
	}
	p.SteamID = steamID

	return p, true, nil
}

// Players walks every entity slot and produces the current tick's
// player batch. Per-entity failures (an absent controller, a failed
// pawn dereference) are swallowed and that slot is skipped — only a
// failure resolving the local controller or spectator target aborts
// the whole tick.
func (o *Observer) Players() ([]Player, error) {
	localControllerRaw, err := o.mem.ReadU64(o.off.Direct.LocalController)
	if err != nil {
		return nil, fmt.Errorf("read local controller: %w", err)
	}
	localController := addr.FromU64(localControllerRaw)

	localPawn, err := o.pawnFromController(localController)
	if err != nil {
		return nil, fmt.Errorf("resolve local pawn: %w", err)
	}

	target, hasTarget, err := o.spectatorTarget(localPawn)
	if err != nil {
		return nil, fmt.Errorf("resolve spectator target: %w", err)
	}

	var players []Player
	for i := uint64(1); i <= maxEntityIndex; i++ {
		controller, ok, err := o.clientEntity(i)
		if err != nil {
			continue // swallowed: §4.4 skips a slot on any inner-loop failure
		}
		if !ok {
			continue
		}

		pawn, err := o.pawnFromController(controller)
		if err != nil {
			continue
		}

		p, ok, err := o.player(controller, pawn)
		if err != nil {
			continue
		}
		if !ok {
			continue
		}

		p.IsLocalPlayer = controller == localController
		if hasTarget && pawn == target {
			p.ActivePlayer = true
		}
		if !hasTarget && p.IsLocalPlayer {
			p.ActivePlayer = true
		}

		players = append(players, p)
	}

	return players, nil
}

// ConvarValueStr reads a known convar's current string value.
func (o *Observer) ConvarValueStr(name string) (string, bool, error) {
	return o.off.ConvarValueStr(o.mem, name)
}
