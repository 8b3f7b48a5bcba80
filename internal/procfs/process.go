// Package procfs is a read-only virtual-memory client for a live Linux
// process, built on the /proc/<pid>/mem and /proc/<pid>/maps pseudo-files.
// Every read is a positional I/O call against an already-open file
// descriptor; there is no caching and no write path.
package procfs

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ashgrove/cs2obs/internal/addr"
)

// ErrModuleNotFound is returned by ModuleBase when no maps line contains
// the requested module filename.
var ErrModuleNotFound = fmt.Errorf("module not found")

// ProcessHandle is a read-only handle onto a target process's address
// space. It is immutable after construction and safe for concurrent use —
// the underlying file descriptor supports concurrent positional reads,
// and there is no other mutable state.
type ProcessHandle struct {
	pid PID
	mem *os.File
}

// Open attaches to pid's address space for reading. It fails if the
// process is gone or its memory file can't be opened read-only.
func Open(pid PID) (*ProcessHandle, error) {
	if !pid.Exists() {
		return nil, fmt.Errorf("process %d is not alive", uint64(pid))
	}

	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", uint64(pid)), os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open memory for pid %d: %w", uint64(pid), err)
	}

	return &ProcessHandle{pid: pid, mem: mem}, nil
}

// PID returns the target's process id.
func (p *ProcessHandle) PID() PID { return p.pid }

// Close releases the underlying file descriptor.
func (p *ProcessHandle) Close() error {
	return p.mem.Close()
}

// ModuleBase returns the base address of the first /proc/<pid>/maps line
// whose content contains moduleName, taken from the hex prefix before '-'.
func (p *ProcessHandle) ModuleBase(moduleName string) (addr.Address, error) {
	line, err := p.pid.firstMapLineContaining(moduleName)
	if err != nil {
		return addr.Null, err
	}
	if line == "" {
		return addr.Null, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleName)
	}
	return parseMapsBaseAddress(line, moduleName)
}

// parseMapsBaseAddress extracts the hexadecimal base address prefixing
// '-' at the start of a /proc/<pid>/maps line.
func parseMapsBaseAddress(line, moduleName string) (addr.Address, error) {
	rangeField, _, ok := strings.Cut(line, " ")
	if !ok {
		return addr.Null, fmt.Errorf("%w: malformed maps line for %s", ErrModuleNotFound, moduleName)
	}
	baseHex, _, ok := strings.Cut(rangeField, "-")
	if !ok {
		return addr.Null, fmt.Errorf("%w: malformed range in maps line for %s", ErrModuleNotFound, moduleName)
	}

	base, err := strconv.ParseUint(baseHex, 16, 64)
	if err != nil {
		return addr.Null, fmt.Errorf("parse base address for %s: %w", moduleName, err)
	}

	return addr.FromU64(base), nil
}

// ReadBytes reads count bytes at a.
func (p *ProcessHandle) ReadBytes(a addr.Address, count int) ([]byte, error) {
	buf := make([]byte, count)
	n, err := p.mem.ReadAt(buf, int64(a.U64()))
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", count, a.U64(), err)
	}
	if n != count {
		return nil, fmt.Errorf("short read at %#x: got %d of %d bytes", a.U64(), n, count)
	}
	return buf, nil
}

// ReadU8 reads a single byte at a.
func (p *ProcessHandle) ReadU8(a addr.Address) (uint8, error) {
	b, err := p.ReadBytes(a, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadI8 reads a signed byte at a.
func (p *ProcessHandle) ReadI8(a addr.Address) (int8, error) {
	v, err := p.ReadU8(a)
	return int8(v), err
}

// ReadU16 reads a little-endian uint16 at a.
func (p *ProcessHandle) ReadU16(a addr.Address) (uint16, error) {
	b, err := p.ReadBytes(a, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadI16 reads a little-endian int16 at a.
func (p *ProcessHandle) ReadI16(a addr.Address) (int16, error) {
	v, err := p.ReadU16(a)
	return int16(v), err
}

// ReadU32 reads a little-endian uint32 at a.
func (p *ProcessHandle) ReadU32(a addr.Address) (uint32, error) {
	b, err := p.ReadBytes(a, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadI32 reads a little-endian int32 at a.
func (p *ProcessHandle) ReadI32(a addr.Address) (int32, error) {
	v, err := p.ReadU32(a)
	return int32(v), err
}

// ReadU64 reads a little-endian uint64 at a.
func (p *ProcessHandle) ReadU64(a addr.Address) (uint64, error) {
	b, err := p.ReadBytes(a, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadI64 reads a little-endian int64 at a.
func (p *ProcessHandle) ReadI64(a addr.Address) (int64, error) {
	v, err := p.ReadU64(a)
	return int64(v), err
}

// ReadAddress reads a little-endian 64-bit value at a and returns it as
// an Address — the common case for chasing pointers.
func (p *ProcessHandle) ReadAddress(a addr.Address) (addr.Address, error) {
	v, err := p.ReadU64(a)
	if err != nil {
		return addr.Null, err
	}
	return addr.FromU64(v), nil
}

// ReadF32 reads a little-endian IEEE-754 float32 at a.
func (p *ProcessHandle) ReadF32(a addr.Address) (float32, error) {
	v, err := p.ReadU32(a)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadF64 reads a little-endian IEEE-754 float64 at a.
func (p *ProcessHandle) ReadF64(a addr.Address) (float64, error) {
	v, err := p.ReadU64(a)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// maxStringLen bounds read-one-byte-at-a-time string reads so a corrupt
// pointer can't spin forever reading zero-terminated garbage.
const maxStringLen = 4096

// ReadString reads a NUL-terminated, single-byte-per-character string
// starting at a. It does not fail if later bytes are unmapped — only a
// failure to read the very next byte is propagated, since a short
// string (terminated by an unmapped page) is not itself an error.
func (p *ProcessHandle) ReadString(a addr.Address) (string, error) {
	var sb strings.Builder
	cur := a
	for i := 0; i < maxStringLen; i++ {
		b, err := p.ReadU8(cur)
		if err != nil {
			if i == 0 {
				return "", fmt.Errorf("read string at %#x: %w", a.U64(), err)
			}
			break
		}
		if b == 0 {
			break
		}
		sb.WriteByte(b)
		cur = cur.AddU64(1)
	}
	return sb.String(), nil
}
