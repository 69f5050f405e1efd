// ═══════════════════════════════════════════════════════════════════════════
// SSM Chunk Loading and Verification
// ═══════════════════════════════════════════════════════════════════════════
//
// A chunk is a self-describing little-endian byte stream:
//
//	[00] (1B) HEADER opcode (60)
//	[01] (4B) magic bytes: ca fe 53 01
//	[05] (4B) chunk size in bytes, header included
//	[09] (4B) global index offset
//	[13] (4B) global count
//	[17-..]   instruction stream
//
// The loader copies the stream into a word-aligned buffer (code
// addresses are tagged like unmanaged pointers, so alignment is part of
// the value encoding) and the verifier walks it once before the chunk
// may run. Verification failures are ordinary errors; the chunk is
// simply not registered.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
)

// headerLen is the size of the HEADER instruction in bytes.
const headerLen = 17

// chunkMagic are the magic bytes carried by HEADER.
var chunkMagic = [4]byte{0xca, 0xfe, 0x53, 0x01}

// Chunk is a verified bytecode buffer owned by the VM.
type Chunk struct {
	words []Val  // word-aligned backing store
	bytes []byte // byte view over words, exactly size long

	globalOffset uintptr
	globalCount  uintptr
}

// newChunk copies raw bytes into an aligned backing buffer.
func newChunk(raw []byte) *Chunk {
	words := make([]Val, (len(raw)+WordSize-1)/WordSize)
	var bytes []byte
	if len(words) > 0 {
		bytes = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(raw))
	}
	copy(bytes, raw)
	return &Chunk{words: words, bytes: bytes}
}

// Size is the chunk length in bytes.
func (c *Chunk) Size() int {
	return len(c.bytes)
}

// base is the address of the first code byte.
//
//go:inline
func (c *Chunk) base() uintptr {
	return uintptr(unsafe.Pointer(&c.bytes[0]))
}

// contains reports whether a code address falls inside this chunk.
func (c *Chunk) contains(addr uintptr) bool {
	return addr >= c.base() && addr < c.base()+uintptr(len(c.bytes))
}

// Little-endian operand readers.

//go:inline
func readU16(b []byte, i int) uint16 {
	return binary.LittleEndian.Uint16(b[i:])
}

//go:inline
func readI16(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i:]))
}

//go:inline
func readU32(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i:])
}

//go:inline
func readI32(b []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(b[i:]))
}

// parseHeader validates the HEADER instruction and fills the chunk's
// global geometry.
func (c *Chunk) parseHeader() error {
	if len(c.bytes) < headerLen {
		return errors.Errorf("code size mismatch: chunk of %d bytes is smaller than the header", len(c.bytes))
	}
	if c.bytes[0] != OpHEADER {
		return errors.New("chunk does not start with a header opcode")
	}
	if [4]byte(c.bytes[1:5]) != chunkMagic {
		return errors.Errorf("wrong magic number: % x", c.bytes[1:5])
	}
	if int(readU32(c.bytes, 5)) != len(c.bytes) {
		return errors.Errorf("code size mismatch: header declares %d bytes, chunk has %d",
			readU32(c.bytes, 5), len(c.bytes))
	}
	c.globalOffset = uintptr(readU32(c.bytes, 9))
	c.globalCount = uintptr(readU32(c.bytes, 13))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Verifier
// ═══════════════════════════════════════════════════════════════════════════
//
// One pass over the instruction stream with a per-byte flag buffer,
// then a reconciliation pass: every branch target must land on an
// instruction boundary and every function target on an XFN.

const (
	flagOp uint8 = 1 << iota
	flagJmpTarget
	flagFnTarget
	flagXFn
)

// verify walks the chunk once. nGlobals is the total global count after
// this chunk loads.
func (c *Chunk) verify(nGlobals uintptr) error {
	size := len(c.bytes)
	mark := make([]uint8, size)

	checkTarget := func(i, off int, flag uint8) error {
		dst := i + off
		if dst < 0 || dst >= size {
			return errors.Errorf("offset points to out of chunk (%d%+d)", i, off)
		}
		mark[dst] |= flag
		return nil
	}

	i := 0
	for i < size {
		op := c.bytes[i]
		if op >= NumOps {
			return errors.Errorf("unknown opcode %d at offset %d", op, i)
		}
		mark[i] |= flagOp
		insn := int(opSize[op])

		switch op {
		case OpPUSHFN:
			if i+5 > size {
				return errors.New("code size mismatch: truncated PUSHFN")
			}
			if err := checkTarget(i, int(readI32(c.bytes, i+1)), flagFnTarget); err != nil {
				return err
			}

		case OpPUSHGLOBAL, OpPOPSETGLOBAL:
			if i+5 > size {
				return errors.New("code size mismatch: truncated global reference")
			}
			if g := uintptr(readU32(c.bytes, i+1)); g >= nGlobals {
				return errors.Errorf("global index out of range (%d of %d)", g, nGlobals)
			}

		case OpLONG:
			if i+5 > size {
				return errors.New("code size mismatch: truncated LONG")
			}
			insn = 5 + int(readU32(c.bytes, i+1))

		case OpJMP:
			if i+5 > size {
				return errors.New("code size mismatch: truncated JMP")
			}
			if err := checkTarget(i, int(readI32(c.bytes, i+1)), flagJmpTarget); err != nil {
				return err
			}

		case OpBEZ, OpBNE:
			if i+3 > size {
				return errors.New("code size mismatch: truncated branch")
			}
			if err := checkTarget(i, int(readI16(c.bytes, i+1)), flagJmpTarget); err != nil {
				return err
			}

		case OpBTAG:
			if i+5 > size {
				return errors.New("code size mismatch: truncated BTAG")
			}
			if err := checkTarget(i, int(readI16(c.bytes, i+3)), flagJmpTarget); err != nil {
				return err
			}

		case OpJTAG:
			if i+5 > size {
				return errors.New("code size mismatch: truncated JTAG")
			}
			n := int(readU32(c.bytes, i+1))
			insn = 5 + 4*n
			if i+insn > size {
				return errors.New("code size mismatch: truncated JTAG table")
			}
			for j := 0; j < n; j++ {
				if err := checkTarget(i, int(readI32(c.bytes, i+5+4*j)), flagJmpTarget); err != nil {
					return err
				}
			}

		case OpMAGIC:
			if i+3 > size {
				return errors.New("code size mismatch: truncated MAGIC")
			}
			if id := readU16(c.bytes, i+1); id >= NumMagics {
				return errors.Errorf("magic code out of range (%d of %d)", id, NumMagics)
			}

		case OpAPP, OpRETAPP:
			// The return address must be encodable as an even pointer.
			if (i+insn)%2 != 0 {
				return errors.Errorf("%s at offset %d must be right-aligned", opName[op], i)
			}

		case OpXFN:
			// A function entry must itself be an even pointer.
			mark[i] |= flagXFn
			if i%2 != 0 {
				return errors.Errorf("XFN at offset %d must be left-aligned", i)
			}

		case OpHEADER:
			if i != 0 {
				return errors.Errorf("header opcode at non-zero offset %d", i)
			}
		}

		if i+insn > size {
			return errors.Errorf("code size mismatch: decoded %d bytes of %d", i+insn, size)
		}
		i += insn
	}
	if i != size {
		return errors.Errorf("code size mismatch: decoded %d bytes of %d", i, size)
	}

	for off, f := range mark {
		if f&flagJmpTarget != 0 && f&flagOp == 0 {
			return errors.Errorf("jump target is not an opcode (offset %d)", off)
		}
		if f&flagFnTarget != 0 && f&flagXFn == 0 {
			return errors.Errorf("function target is not a function entry (offset %d)", off)
		}
	}
	return nil
}
