// ═══════════════════════════════════════════════════════════════════════════
// SSM Interpreter
// ═══════════════════════════════════════════════════════════════════════════
//
// A switch-dispatched loop over verified bytecode. Three registers:
//
//	ip — current chunk and byte offset into it
//	sp — the call stack's top (right-growing: push moves down)
//	bp — frame base index into the call stack
//
// Frame discipline. A frame is three words at [bp, bp+3):
//
//	vals[bp]   caller bp, encoded as its distance from the right end
//	           (immune to stack growth)
//	vals[bp+1] return ip as a tagged code pointer; PtrVal(0) is the
//	           halt sentinel pushed at entry
//	vals[bp+2] the callee closure
//	vals[bp+3...] the arguments, where the caller pushed them
//
// Arguments are addressed through PUSHAP (bp+3+off), temporaries below
// the frame through PUSHBP (bp-1-off), and scratch values relative to
// the top through PUSH/POPSET. RET n pops the frame together with its n
// arguments; RETAPP n (n again the current frame's argument count)
// slides a fresh frame over the old one so chained tail applications
// run in constant stack.
//
// Binary operators take their left operand from the top of the stack:
// operands are pushed right-to-left. INTDIV with 1 on top of 0 divides
// one by zero.
//
// Every allocating opcode keeps its operands on the stack until the new
// tuple is fully initialized: allocation may collect, and collection
// both moves tuples and rewrites the stack slots that name them.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

import (
	"bytes"
	"math"
)

// Run executes a verified chunk from its entry point until the entry
// frame returns. Runtime faults (underflow, division by zero,
// unimplemented magics) are fatal.
func (vm *VM) Run(c *Chunk) {
	m := vm.mem
	st := m.stack

	var bp uintptr

	// ensure makes room for n pushes, growing the stack and rebasing bp
	// when needed. Growth swaps the backing buffer: every address into
	// it is refreshed by reading through st afterwards.
	ensure := func(n uintptr) {
		for st.top < n {
			old := st.size
			st.extendLeft(st.size * 2)
			bp += st.size - old
		}
	}

	// slot addresses a live stack word relative to the current top.
	slot := func(off int) *Val {
		idx := st.top + uintptr(off)
		if off < 0 || idx >= st.size {
			fatalf("stack offset out of range (%d at depth %d)", off, st.size-st.top)
		}
		return &st.vals[idx]
	}

	// tupAt fetches a tuple operand from a stack slot.
	tupAt := func(off int) Tup {
		v := *slot(off)
		if !v.IsGC() || v == 0 {
			fatalf("value at stack offset %d is not a tuple", off)
		}
		return v.Tup()
	}

	// barrier registers a possibly-major tuple with the write barrier
	// when a reference to it is overwritten or stored.
	barrier := func(v Val) {
		if v.IsGC() && v != 0 {
			if t := v.Tup(); !m.minor.contains(t) {
				m.WriteBarrier(t)
			}
		}
	}

	// closure validates an application target: a short tuple with tag 0
	// whose first element is the function pointer.
	closure := func(v Val) Tup {
		if !v.IsGC() || v == 0 {
			fatalf("apply target is not a tuple")
		}
		t := v.Tup()
		hd := t.Hd()
		if hd.IsLong() || hd.Tag() != 0 || hd.ShortWords() < 1 {
			fatalf("apply target is not a closure")
		}
		return t
	}

	// Entry frame: a dummy closure, the halt sentinel and an "empty
	// stack" caller bp.
	ensure(3)
	st.pushR(TupVal(0))
	st.pushR(PtrVal(0))
	st.pushR(IntVal(0))
	bp = st.top

	cur := c
	i := 0

	// jump transfers control to an absolute code address.
	jump := func(addr uintptr) {
		if !cur.contains(addr) {
			cur = vm.chunkAt(addr)
		}
		i = int(addr - cur.base())
	}

	for {
		switch op := cur.bytes[i]; op {
		case OpNOP:
			i++

		case OpHEADER:
			i += headerLen

		case OpMAGIC:
			vm.magic(readU16(cur.bytes, i+1))
			i += 3

		// ── Stack ──────────────────────────────────────────────────────

		case OpPOP:
			n := uintptr(readU16(cur.bytes, i+1))
			if st.top+n > st.size {
				fatalf("stack underflow")
			}
			st.top += n
			i += 3

		case OpPUSH:
			ensure(1)
			v := *slot(int(readI16(cur.bytes, i+1)))
			st.pushR(v)
			i += 3

		case OpPOPSET:
			v := st.popR()
			*slot(int(readI16(cur.bytes, i+1))) = v
			i += 3

		case OpPUSHBP:
			ensure(1)
			idx := int(bp) - 1 - int(readI16(cur.bytes, i+1))
			if idx < int(st.top) || idx >= int(st.size) {
				fatalf("bp offset out of range")
			}
			st.pushR(st.vals[idx])
			i += 3

		case OpPUSHAP:
			ensure(1)
			idx := bp + 3 + uintptr(readI16(cur.bytes, i+1))
			if idx >= st.size {
				fatalf("ap offset out of range")
			}
			st.pushR(st.vals[idx])
			i += 3

		case OpPUSHI:
			ensure(1)
			st.pushR(IntVal(int(readI32(cur.bytes, i+1))))
			i += 5

		case OpPUSHF:
			ensure(1)
			st.pushR(FloatVal(float64(math.Float32frombits(readU32(cur.bytes, i+1)))))
			i += 5

		case OpPUSHFN:
			ensure(1)
			st.pushR(PtrVal(cur.base() + uintptr(i+int(readI32(cur.bytes, i+1)))))
			i += 5

		// ── Globals ────────────────────────────────────────────────────

		case OpPUSHGLOBAL:
			ensure(1)
			st.pushR(m.global.vals[readU32(cur.bytes, i+1)])
			i += 5

		case OpPOPSETGLOBAL:
			ix := readU32(cur.bytes, i+1)
			v := st.popR()
			barrier(m.global.vals[ix])
			barrier(v)
			m.global.vals[ix] = v
			i += 5

		// ── Tuples ─────────────────────────────────────────────────────

		case OpTUP:
			tag := uintptr(readU16(cur.bytes, i+1))
			n := uintptr(readU16(cur.bytes, i+3))
			if st.top+n > st.size {
				fatalf("stack underflow")
			}
			// Elements stay rooted on the stack across the allocation
			// and are re-read afterwards, post-rewrite.
			t := m.NewTup(tag, n)
			for k := uintptr(0); k < n; k++ {
				*t.Elem(k) = st.vals[st.top+n-1-k]
			}
			st.top += n
			ensure(1)
			st.pushR(TupVal(t))
			i += 5

		case OpPUSHTAG:
			t := tupAt(int(readI16(cur.bytes, i+1)))
			ensure(1)
			st.pushR(IntVal(int(t.Hd().Tag())))
			i += 3

		case OpPUSHLEN:
			t := tupAt(int(readI16(cur.bytes, i+1)))
			ensure(1)
			st.pushR(IntVal(int(t.Hd().ShortWords())))
			i += 3

		case OpPUSHELEM:
			ix := uintptr(readU32(cur.bytes, i+1))
			v := st.popR()
			if !v.IsGC() || v == 0 {
				fatalf("value is not a tuple")
			}
			t := v.Tup()
			if ix >= t.Hd().ShortWords() {
				fatalf("tuple element out of range (%d of %d)", ix, t.Hd().ShortWords())
			}
			st.pushR(*t.Elem(ix))
			i += 5

		case OpPUSHISLONG:
			t := tupAt(int(readI16(cur.bytes, i+1)))
			ensure(1)
			st.pushR(boolVal(t.Hd().IsLong()))
			i += 3

		// ── Longs ──────────────────────────────────────────────────────

		case OpLONG:
			n := uintptr(readU32(cur.bytes, i+1))
			t := m.NewLongTup(n)
			copy(t.Bytes(), cur.bytes[i+5:i+5+int(n)])
			ensure(1)
			st.pushR(TupVal(t))
			i += 5 + int(n)

		case OpPOPSETBYTE:
			v := st.popR()
			ix := uintptr(st.popR().Int())
			t := tupAt(int(readI16(cur.bytes, i+1)))
			if !t.Hd().IsLong() || ix >= t.Hd().LongBytes() {
				fatalf("long byte index out of range")
			}
			*t.Byte(ix) = byte(v.Int())
			i += 3

		case OpPUSHBYTE:
			ix := uintptr(st.popR().Int())
			t := tupAt(int(readI16(cur.bytes, i+1)))
			if !t.Hd().IsLong() || ix >= t.Hd().LongBytes() {
				fatalf("long byte index out of range")
			}
			ensure(1)
			st.pushR(IntVal(int(*t.Byte(ix))))
			i += 3

		case OpPUSHLONGLEN:
			t := tupAt(int(readI16(cur.bytes, i+1)))
			ensure(1)
			st.pushR(IntVal(int(t.Hd().LongBytes())))
			i += 3

		case OpJOIN:
			// Left operand on top, like every binary op. The operands
			// stay rooted until the copy is done.
			lx := tupAt(0).Hd().LongBytes()
			ly := tupAt(1).Hd().LongBytes()
			t := m.NewLongTup(lx + ly)
			copy(t.Bytes()[:lx], tupAt(0).Bytes())
			copy(t.Bytes()[lx:], tupAt(1).Bytes())
			st.top += 2
			st.pushR(TupVal(t))
			i++

		case OpSUBLONG:
			// [t][start][end], end on top.
			end := uintptr(slot(0).Int())
			start := uintptr(slot(1).Int())
			src := tupAt(2)
			if start > end || end > src.Hd().LongBytes() {
				fatalf("sublong range out of bounds (%d:%d of %d)", start, end, src.Hd().LongBytes())
			}
			t := m.NewLongTup(end - start)
			copy(t.Bytes(), tupAt(2).Bytes()[start:end])
			st.top += 3
			st.pushR(TupVal(t))
			i++

		case OpLONGCMP:
			x := st.popR()
			y := st.popR()
			if !x.IsGC() || x == 0 || !y.IsGC() || y == 0 {
				fatalf("longcmp operand is not a tuple")
			}
			st.pushR(IntVal(bytes.Compare(x.Tup().Bytes(), y.Tup().Bytes())))
			i++

		// ── Integer arithmetic ─────────────────────────────────────────

		case OpINTADD:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() + y.Int()))
			i++

		case OpINTSUB:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() - y.Int()))
			i++

		case OpINTMUL:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() * y.Int()))
			i++

		case OpUINTMUL:
			x := st.popR()
			y := st.popR()
			st.pushR(UintVal(x.Uint() * y.Uint()))
			i++

		case OpINTDIV:
			x := st.popR()
			y := st.popR()
			if y.Int() == 0 {
				fatalf("division by zero")
			}
			st.pushR(IntVal(x.Int() / y.Int()))
			i++

		case OpUINTDIV:
			x := st.popR()
			y := st.popR()
			if y.Uint() == 0 {
				fatalf("division by zero")
			}
			st.pushR(UintVal(x.Uint() / y.Uint()))
			i++

		case OpINTMOD:
			x := st.popR()
			y := st.popR()
			if y.Int() == 0 {
				fatalf("division by zero")
			}
			st.pushR(IntVal(x.Int() % y.Int()))
			i++

		case OpUINTMOD:
			x := st.popR()
			y := st.popR()
			if y.Uint() == 0 {
				fatalf("division by zero")
			}
			st.pushR(UintVal(x.Uint() % y.Uint()))
			i++

		case OpINTUNM:
			x := st.popR()
			st.pushR(IntVal(-x.Int()))
			i++

		case OpINTSHL:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() << (uint(y.Int()) % WordBits)))
			i++

		case OpINTSHR:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() >> (uint(y.Int()) % WordBits)))
			i++

		case OpUINTSHR:
			x := st.popR()
			y := st.popR()
			st.pushR(UintVal(x.Uint() >> (uint(y.Int()) % WordBits)))
			i++

		case OpINTAND:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() & y.Int()))
			i++

		case OpINTOR:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() | y.Int()))
			i++

		case OpINTXOR:
			x := st.popR()
			y := st.popR()
			st.pushR(IntVal(x.Int() ^ y.Int()))
			i++

		case OpINTNEG:
			x := st.popR()
			st.pushR(IntVal(^x.Int()))
			i++

		case OpINTLT:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x.Int() < y.Int()))
			i++

		case OpINTLE:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x.Int() <= y.Int()))
			i++

		// ── Float arithmetic ───────────────────────────────────────────

		case OpFLOATADD:
			x := st.popR()
			y := st.popR()
			st.pushR(FloatVal(x.Float() + y.Float()))
			i++

		case OpFLOATSUB:
			x := st.popR()
			y := st.popR()
			st.pushR(FloatVal(x.Float() - y.Float()))
			i++

		case OpFLOATMUL:
			x := st.popR()
			y := st.popR()
			st.pushR(FloatVal(x.Float() * y.Float()))
			i++

		case OpFLOATDIV:
			x := st.popR()
			y := st.popR()
			st.pushR(FloatVal(x.Float() / y.Float()))
			i++

		case OpFLOATUNM:
			x := st.popR()
			st.pushR(FloatVal(-x.Float()))
			i++

		case OpFLOATLT:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x.Float() < y.Float()))
			i++

		case OpFLOATLE:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x.Float() <= y.Float()))
			i++

		// ── Compare and branch ─────────────────────────────────────────

		case OpEQ:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x == y))
			i++

		case OpNE:
			x := st.popR()
			y := st.popR()
			st.pushR(boolVal(x != y))
			i++

		case OpJMP:
			i += int(readI32(cur.bytes, i+1))

		case OpBEZ:
			if st.popR().Int() == 0 {
				i += int(readI16(cur.bytes, i+1))
			} else {
				i += 3
			}

		case OpBNE:
			if st.popR().Int() != 0 {
				i += int(readI16(cur.bytes, i+1))
			} else {
				i += 3
			}

		case OpBTAG:
			if tagKey(st.popR()) == uintptr(readU16(cur.bytes, i+1)) {
				i += int(readI16(cur.bytes, i+3))
			} else {
				i += 5
			}

		case OpJTAG:
			n := uintptr(readU32(cur.bytes, i+1))
			if k := tagKey(st.popR()); k < n {
				i += int(readI32(cur.bytes, i+5+4*int(k)))
			} else {
				i += 5 + 4*int(n)
			}

		// ── Calls ──────────────────────────────────────────────────────

		case OpAPP:
			// The argument count rides in the stream for tooling; the
			// arguments themselves stay where the caller pushed them,
			// directly above the new frame.
			ensure(3)
			clos := st.popR()
			fn := *closure(clos).Elem(0)
			retAddr := cur.base() + uintptr(i+3)
			st.pushR(clos)
			st.pushR(PtrVal(retAddr))
			st.pushR(IntVal(int(st.size - bp)))
			bp = st.top
			jump(fn.Ptr())

		case OpRET:
			n := uintptr(readU16(cur.bytes, i+1))
			result := st.popR()
			callerBp := st.vals[bp].Int()
			retIP := st.vals[bp+1]
			if bp+3+n > st.size {
				fatalf("stack underflow")
			}
			st.top = bp + 3 + n
			bp = st.size - uintptr(callerBp)
			st.pushR(result)
			addr := retIP.Ptr()
			if addr == 0 {
				return
			}
			jump(addr)

		case OpRETAPP:
			// n is the current frame's argument count, as in RET; the
			// words between top and bp are the new argument vector.
			n := uintptr(readU16(cur.bytes, i+1))
			clos := st.popR()
			fn := *closure(clos).Elem(0)
			nargs := bp - st.top
			callerBp := st.vals[bp]
			retIP := st.vals[bp+1]
			newBp := st.top + n
			if newBp+3+nargs > st.size {
				fatalf("stack underflow")
			}
			for k := int(nargs) - 1; k >= 0; k-- {
				st.vals[newBp+3+uintptr(k)] = st.vals[st.top+uintptr(k)]
			}
			st.vals[newBp] = callerBp
			st.vals[newBp+1] = retIP
			st.vals[newBp+2] = clos
			st.top = newBp
			bp = newBp
			jump(fn.Ptr())

		case OpXFN:
			// Function entry marker; the operand words are metadata for
			// tooling.
			i += 5

		default:
			fatalf("unknown opcode %d at offset %d", cur.bytes[i], i)
		}
	}
}

// boolVal encodes a comparison result.
//
//go:inline
func boolVal(b bool) Val {
	if b {
		return IntVal(1)
	}
	return IntVal(0)
}

// tagKey is the dispatch key of BTAG/JTAG: the header tag of a short
// tuple, or the integer value of a literal (constant constructors are
// compiled as bare integers).
func tagKey(v Val) uintptr {
	if v.IsGC() && v != 0 {
		return v.Tup().Hd().Tag()
	}
	return uintptr(v.Uint())
}
