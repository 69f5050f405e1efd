package ssm

import (
	"encoding/binary"
	"math"
)

// ═══════════════════════════════════════════════════════════════════════════
// Test chunk assembler
// ═══════════════════════════════════════════════════════════════════════════
//
// A tiny two-pass assembler for building wire-exact chunks in tests:
// emit instructions, reference labels from branch operands, and build()
// patches the offsets and the declared size. Branch offsets are
// measured from the start of the referencing instruction, as on the
// wire.

type asmPatch struct {
	at    int    // operand position
	width int    // 2 or 4 bytes
	insn  int    // instruction start the offset is measured from
	label string
}

type asm struct {
	buf     []byte
	insn    int // start offset of the instruction being emitted
	labels  map[string]int
	patches []asmPatch
}

// newAsm starts a chunk with a HEADER instruction carrying the given
// global geometry. The size field is patched by build().
func newAsm(globalOffset, globalCount uint32) *asm {
	a := &asm{labels: map[string]int{}}
	a.op(OpHEADER)
	a.raw(chunkMagic[:]...)
	a.u32(0) // size, patched
	a.u32(globalOffset)
	a.u32(globalCount)
	return a
}

func (a *asm) pos() int { return len(a.buf) }

func (a *asm) raw(b ...byte) *asm {
	a.buf = append(a.buf, b...)
	return a
}

// op starts a new instruction.
func (a *asm) op(o byte) *asm {
	a.insn = len(a.buf)
	return a.raw(o)
}

func (a *asm) u16(v uint16) *asm {
	return a.raw(byte(v), byte(v>>8))
}

func (a *asm) i16(v int16) *asm { return a.u16(uint16(v)) }

func (a *asm) u32(v uint32) *asm {
	return a.raw(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *asm) i32(v int32) *asm { return a.u32(uint32(v)) }

func (a *asm) f32(v float32) *asm { return a.u32(math.Float32bits(v)) }

// label defines a jump/function target at the current offset.
func (a *asm) label(name string) *asm {
	a.labels[name] = len(a.buf)
	return a
}

// ref16 / ref32 emit a label-relative operand, resolved by build().
func (a *asm) ref16(name string) *asm {
	a.patches = append(a.patches, asmPatch{at: len(a.buf), width: 2, insn: a.insn, label: name})
	return a.u16(0)
}

func (a *asm) ref32(name string) *asm {
	a.patches = append(a.patches, asmPatch{at: len(a.buf), width: 4, insn: a.insn, label: name})
	return a.u32(0)
}

// alignCall pads with NOP until an APP/RETAPP emitted next ends on an
// even offset (the return address must be pointer-encodable).
func (a *asm) alignCall() *asm {
	if (len(a.buf)+3)%2 != 0 {
		a.op(OpNOP)
	}
	return a
}

// alignFn pads with NOP until the next offset is even, so an XFN
// emitted next is a valid function target.
func (a *asm) alignFn() *asm {
	if len(a.buf)%2 != 0 {
		a.op(OpNOP)
	}
	return a
}

// build resolves labels and patches the declared size.
func (a *asm) build() []byte {
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			panic("asm: undefined label " + p.label)
		}
		off := target - p.insn
		switch p.width {
		case 2:
			binary.LittleEndian.PutUint16(a.buf[p.at:], uint16(int16(off)))
		case 4:
			binary.LittleEndian.PutUint32(a.buf[p.at:], uint32(int32(off)))
		}
	}
	binary.LittleEndian.PutUint32(a.buf[5:], uint32(len(a.buf)))
	return a.buf
}

// testVM builds a VM with a small geometry suitable for tests.
func testVM() *VM {
	return NewVM(Config{
		MinorHeapSize:           1024,
		MajorGCThresholdPercent: 100,
		InitialStackSize:        1024,
		InitialGlobalSize:       16,
	})
}

// stackDepth is the number of live call-stack words.
func stackDepth(vm *VM) uintptr {
	return vm.mem.stack.size - vm.mem.stack.top
}

// stackTop reads the newest call-stack word.
func stackTop(vm *VM) Val {
	return vm.mem.stack.vals[vm.mem.stack.top]
}
