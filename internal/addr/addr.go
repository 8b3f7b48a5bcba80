// Package addr models a 64-bit virtual address in a foreign process.
//
// Address is an opaque scalar: the only value with meaning outside of a
// "maybe this is a pointer" sense is the null sentinel. All arithmetic
// wraps, matching what the target process itself would see if a pointer
// computation overflowed.
package addr

// Null is the sole invalid sentinel. Every other value is a candidate
// virtual address and may still fail on read.
const Null Address = 0

// Address is a 64-bit value in the target process's address space.
type Address uint64

// FromU64 converts a raw 64-bit value to an Address.
func FromU64(v uint64) Address { return Address(v) }

// U64 returns the raw 64-bit value.
func (a Address) U64() uint64 { return uint64(a) }

// IsNull reports whether a is the null sentinel.
func (a Address) IsNull() bool { return a == Null }

// IsValid reports whether a is not the null sentinel. It does not imply
// the address is actually mapped in the target.
func (a Address) IsValid() bool { return a != Null }

// Add returns a + n (wrapping).
func (a Address) Add(n Address) Address { return a + n }

// Sub returns a - n (wrapping).
func (a Address) Sub(n Address) Address { return a - n }

// Mul returns a * n (wrapping).
func (a Address) Mul(n Address) Address { return a * n }

// Div returns a / n.
func (a Address) Div(n Address) Address { return a / n }

// Rem returns a % n.
func (a Address) Rem(n Address) Address { return a % n }

// AddU64 returns a + n (wrapping), a convenience over Add(FromU64(n)).
func (a Address) AddU64(n uint64) Address { return a + Address(n) }

// And returns a & n.
func (a Address) And(n Address) Address { return a & n }

// Or returns a | n.
func (a Address) Or(n Address) Address { return a | n }

// Xor returns a ^ n.
func (a Address) Xor(n Address) Address { return a ^ n }

// Shl returns a << n.
func (a Address) Shl(n uint) Address { return a << n }

// Shr returns a >> n.
func (a Address) Shr(n uint) Address { return a >> n }

// Less reports whether a < b, giving Address a total order.
func (a Address) Less(b Address) bool { return a < b }
