// ═══════════════════════════════════════════════════════════════════════════
// SSM Value Encoding
// ═══════════════════════════════════════════════════════════════════════════
//
// A value is one machine word, tagged by its low bit:
//
//	| <- high                                  low -> |
//	|            payload (wordBits-1 b)       | 1 (1b) |   literal
//	|            tuple address  (aligned, low bit 0)   |   GC pointer
//
// Literals carry an integer (arithmetic-shifted by one), an unsigned
// integer, a word-sized float with its lowest mantissa bit sacrificed to
// the tag, or an even-aligned unmanaged pointer. A word with the low bit
// clear is a pointer to a tuple header on the managed heap; the null
// tuple (0) is valid as a value but never dereferenced.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

import (
	"math"
	"unsafe"
)

// Word geometry of the host. 32 << (^uintptr(0) >> 63) folds to 64 on
// 64-bit targets and 32 elsewhere.
const (
	WordBits = 32 << (^uintptr(0) >> 63)
	WordSize = WordBits / 8
)

// Val is one tagged machine word.
type Val uintptr

// Tup is the address of a tuple's header word on the managed heap.
// The zero Tup is the null tuple.
type Tup uintptr

// IsLiteral reports whether v is a tagged literal (int, uint, float or
// unmanaged pointer).
//
//go:inline
func (v Val) IsLiteral() bool {
	return v&1 != 0
}

// IsGC reports whether v is a managed tuple pointer.
//
//go:inline
func (v Val) IsGC() bool {
	return v&1 == 0
}

// IntVal encodes a signed integer. The top bit of i is lost; arithmetic
// on encoded integers wraps modulo 2^(WordBits-1).
//
//go:inline
func IntVal(i int) Val {
	return Val(uintptr(i)<<1 | 1)
}

// Int decodes a signed integer (arithmetic shift right).
//
//go:inline
func (v Val) Int() int {
	return int(uintptr(v)) >> 1
}

// UintVal encodes an unsigned integer.
//
//go:inline
func UintVal(u uint) Val {
	return Val(uintptr(u)<<1 | 1)
}

// Uint decodes an unsigned integer (logical shift right).
//
//go:inline
func (v Val) Uint() uint {
	return uint(uintptr(v) >> 1)
}

// PtrVal encodes an unmanaged pointer. The address must be even-aligned
// so that clearing the tag restores it exactly.
//
//go:inline
func PtrVal(p uintptr) Val {
	return Val(p | 1)
}

// Ptr decodes an unmanaged pointer.
//
//go:inline
func (v Val) Ptr() uintptr {
	return uintptr(v) &^ 1
}

// FloatVal encodes a word-sized float by tagging its raw bit pattern.
// The lowest mantissa bit is overwritten by the tag, so a round trip is
// bit-exact only for floats whose lowest mantissa bit is zero (every
// float32-sourced literal, 0.0, ±1.0, ±Inf, the canonical NaN, ...).
//
//go:inline
func FloatVal(f float64) Val {
	if WordBits == 64 {
		return Val(uintptr(math.Float64bits(f)) | 1)
	}
	return Val(uintptr(math.Float32bits(float32(f))) | 1)
}

// Float decodes a word-sized float from the untagged bit pattern.
//
//go:inline
func (v Val) Float() float64 {
	if WordBits == 64 {
		return math.Float64frombits(uint64(uintptr(v) &^ 1))
	}
	return float64(math.Float32frombits(uint32(uintptr(v) &^ 1)))
}

// TupVal encodes a tuple pointer. Tuple headers are word-aligned, so the
// address already carries a zero tag bit.
//
//go:inline
func TupVal(t Tup) Val {
	return Val(t)
}

// Tup decodes a tuple pointer.
//
//go:inline
func (v Val) Tup() Tup {
	return Tup(v)
}

// ═══════════════════════════════════════════════════════════════════════════
// Tuple word access
// ═══════════════════════════════════════════════════════════════════════════
//
// A tuple address points at its header word. Payload elements follow the
// header; bookkeeping words (mark link, major list link) sit immediately
// before it. All access goes through these helpers so that the header
// word can double as a forwarding slot during evacuation.

// Hd returns the header word (or, mid-evacuation, the forwarding value).
//
//go:inline
func (t Tup) Hd() Hd {
	return *(*Hd)(unsafe.Pointer(t))
}

// SetHd stores the header word.
//
//go:inline
func (t Tup) SetHd(h Hd) {
	*(*Hd)(unsafe.Pointer(t)) = h
}

// Elem returns the address of payload word i of a short tuple.
//
//go:inline
func (t Tup) Elem(i uintptr) *Val {
	return (*Val)(unsafe.Pointer(uintptr(t) + (i+1)*WordSize))
}

// Byte returns the address of payload byte i of a long tuple.
//
//go:inline
func (t Tup) Byte(i uintptr) *byte {
	return (*byte)(unsafe.Pointer(uintptr(t) + WordSize + i))
}

// Bytes returns the payload of a long tuple as a byte slice.
func (t Tup) Bytes() []byte {
	n := t.Hd().LongBytes()
	return unsafe.Slice(t.Byte(0), n)
}

// next is the major-list link word, the first word before the header.
// Only tuples on a major list own it.
//
//go:inline
func (t Tup) next() *Tup {
	return (*Tup)(unsafe.Pointer(uintptr(t) - WordSize))
}

// markMinor is the mark-list link of a minor-heap tuple: its single
// bookkeeping word, directly before the header.
//
//go:inline
func (t Tup) markMinor() *Tup {
	return (*Tup)(unsafe.Pointer(uintptr(t) - WordSize))
}

// markMajor is the mark-list link of a major-heap tuple: the second
// bookkeeping word, below the major-list link. It doubles as the
// write-barrier link.
//
//go:inline
func (t Tup) markMajor() *Tup {
	return (*Tup)(unsafe.Pointer(uintptr(t) - 2*WordSize))
}

// TupWords is the total word footprint of a short tuple payload of the
// given size, header included.
//
//go:inline
func TupWords(words uintptr) uintptr {
	return 1 + words
}

// TupWordsFromBytes is the total word footprint of a long tuple payload
// of the given byte size, header included, payload rounded up to whole
// words.
//
//go:inline
func TupWordsFromBytes(bytes uintptr) uintptr {
	return 1 + (bytes+WordSize-1)/WordSize
}
