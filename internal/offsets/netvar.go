package offsets

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ashgrove/cs2obs/internal/addr"
	"github.com/ashgrove/cs2obs/internal/elfscan"
)

// netvarMarker is the case-insensitive annotation string that flags a
// descriptor record as belonging to a networked ("netvar") field.
const netvarMarker = "MNetworkEnable"

// netvarField binds one recognized descriptor name to its destination
// slot, whether it requires the MNetworkEnable annotation to be
// present, and the byte displacement (relative to the scan cursor)
// that holds its u32 offset value.
type netvarField struct {
	name                  string
	dest                  *addr.Address
	requiresNetworkEnable bool
	displacement          uint64
}

// netvarTable lists every recognized descriptor, bound to its slot in
// nv. The per-field displacement (0x08, 0x10, or 0x18) reflects two
// distinct record layouts present in the target and must be preserved
// exactly — it is not derivable from the field's type or group.
func netvarTable(nv *NetvarOffsets) []netvarField {
	return []netvarField{
		{"m_sSanitizedPlayerName", &nv.Controller.PlayerName, true, 0x18},
		{"m_hPawn", &nv.Controller.Pawn, true, 0x18},
		{"m_iCompTeammateColor", &nv.Controller.CompTeammateColor, false, 0x10},
		{"m_iPing", &nv.Controller.Ping, true, 0x18},
		{"m_pInGameMoneyServices", &nv.Controller.InGameMoneyServices, false, 0x10},
		{"m_steamID", &nv.Controller.SteamID, true, 0x18},

		{"m_iHealth", &nv.Pawn.Health, true, 0x18},
		{"m_ArmorValue", &nv.Pawn.ArmorValue, true, 0x18},
		{"m_iTeamNum", &nv.Pawn.TeamNum, true, 0x18},
		{"m_lifeState", &nv.Pawn.LifeState, true, 0x18},
		{"m_pClippingWeapon", &nv.Pawn.ClippingWeapon, false, 0x10},
		{"m_angEyeAngles", &nv.Pawn.EyeAngles, false, 0x10},
		{"m_vOldOrigin", &nv.Pawn.OldOrigin, false, 0x08},
		{"m_pWeaponServices", &nv.Pawn.WeaponServices, false, 0x08},
		{"m_pObserverServices", &nv.Pawn.ObserverServices, false, 0x08},
		{"m_pItemServices", &nv.Pawn.ItemServices, false, 0x08},

		{"m_hActiveWeapon", &nv.WeaponService.ActiveWeapon, true, 0x18},
		{"m_hMyWeapons", &nv.WeaponService.MyWeapons, false, 0x08},

		{"m_iAccount", &nv.MoneyService.Account, false, 0x10},

		{"m_hObserverTarget", &nv.ObserverService.ObserverTarget, false, 0x08},

		{"m_bHasDefuser", &nv.ItemService.HasDefuser, false, 0x10},
		{"m_bHasHelmet", &nv.ItemService.HasHelmet, true, 0x18},
	}
}

// resolveNetvar discovers every per-class field offset by scanning the
// client module backward for MNetworkEnable-adjacent descriptor
// records. This phase has no equivalent upstream — it is the one part
// of the resolver built directly from the algorithm description, with
// no prior implementation to port.
func resolveNetvar(p ProcessHandle, lib LibraryOffsets) (NetvarOffsets, error) {
	var nv NetvarOffsets
	fields := netvarTable(&nv)
	byName := make(map[string]*netvarField, len(fields))
	for i := range fields {
		byName[fields[i].name] = &fields[i]
	}

	buf, err := elfscan.DumpModule(p, lib.Client)
	if err != nil {
		return nv, fmt.Errorf("dump client module: %w", err)
	}
	size := uint64(len(buf))
	base := lib.Client.U64()

	within := func(v uint64) bool { return v >= base && v <= base+size }

	if size < 8 {
		return nv, fmt.Errorf("client module too small to scan (%d bytes)", size)
	}

	for off := int64(size) - 8; off >= 0; off -= 8 {
		cursor := uint64(off)
		namePointerRaw := binary.LittleEndian.Uint64(buf[cursor:])

		networkEnable := false
		if within(namePointerRaw) {
			rel := namePointerRaw - base
			if rel+8 <= size {
				deref := binary.LittleEndian.Uint64(buf[rel:])
				if within(deref) && strings.EqualFold(readCString(buf, deref-base), netvarMarker) {
					networkEnable = true
				}
			}
		}

		var netvarNamePointer uint64
		if networkEnable {
			if cursor+0x08+8 > size {
				continue
			}
			netvarNamePointer = binary.LittleEndian.Uint64(buf[cursor+0x08:])
		} else {
			netvarNamePointer = namePointerRaw
		}

		if !within(netvarNamePointer) {
			continue
		}
		name := readCString(buf, netvarNamePointer-base)

		field, recognized := byName[name]
		if !recognized {
			continue
		}
		if field.requiresNetworkEnable && !networkEnable {
			continue
		}
		if field.dest.IsValid() {
			continue // first-write-wins; scanning backward, an earlier write already claimed this field
		}

		dispOffset := cursor + field.displacement
		if dispOffset+4 > size {
			continue
		}
		value := binary.LittleEndian.Uint32(buf[dispOffset:])
		*field.dest = addr.FromU64(uint64(value))
	}

	if unset := firstUnsetNetvar(fields); unset != "" {
		return nv, fmt.Errorf("netvar resolution incomplete: %s never matched", unset)
	}

	return nv, nil
}

func firstUnsetNetvar(fields []netvarField) string {
	for _, f := range fields {
		if !f.dest.IsValid() {
			return f.name
		}
	}
	return ""
}

// readCString decodes a NUL-terminated string starting at the given
// offset into buf, stopping at the buffer's end if no NUL is found.
func readCString(buf []byte, start uint64) string {
	if start >= uint64(len(buf)) {
		return ""
	}
	end := start
	for end < uint64(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[start:end])
}
