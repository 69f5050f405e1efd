// ═══════════════════════════════════════════════════════════════════════════
// SSM Memory Manager — collection
// ═══════════════════════════════════════════════════════════════════════════
//
// Mark-and-move with two generations, a simplified cousin of the OCaml
// scheme:
//
//  1. Mark everything reachable. Roots are the write-barrier list, the
//     global table and the live call stack. Minor GC marks only tuples
//     inside the minor buffer; full GC marks everything non-null.
//  2. (Full GC only) Free unmarked major tuples, unmark survivors.
//  3. Evacuate marked minor tuples into the major heap. The old header
//     word becomes the forwarding value. Then rewrite every word that
//     may still hold a minor address: the freshly created NODES prefix,
//     the write-barrier tuples, and both root stacks — in that order,
//     strictly after the whole copy pass.
//  4. Rewind the minor top, clear the write barrier.
//
// Marking is iterative over an intrusive list threaded through each
// short tuple's mark word; long tuples are colored and skipped. Marking
// allocates nothing, and a minor tuple's single bookkeeping word is used
// for nothing else, so it serves as that tuple's mark word.
//
// The write barrier registers a major short tuple as a root the moment
// it may receive a minor pointer; the list is discharged and cleared by
// the next collection of either kind.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

// markLink resolves the intrusive mark-list word of a tuple: the single
// bookkeeping word of a minor tuple, the second one of a major tuple.
//
//go:inline
func (m *Mem) markLink(t Tup) *Tup {
	if m.minor.contains(t) {
		return t.markMinor()
	}
	return t.markMajor()
}

// markableFn decides whether a tuple belongs to the current cycle.
type markableFn func(Tup) bool

func (m *Mem) markableMajor(t Tup) bool {
	return t != 0
}

func (m *Mem) markableMinor(t Tup) bool {
	return m.minor.contains(t)
}

// markAndPush colors the tuple behind val, if any, and queues short
// tuples for the element scan.
func (m *Mem) markAndPush(val Val, markable markableFn) {
	if !val.IsGC() {
		return
	}
	tup := val.Tup()
	if !markable(tup) {
		return
	}
	hd := tup.Hd()
	if hd.Color() != 0 {
		return
	}
	gcLog.Debugf("(mark) -> %#x", uintptr(tup))
	tup.SetHd(hd.Marked())
	// Long tuples hold no references; color is enough.
	if hd.IsLong() {
		return
	}
	*m.markLink(tup) = m.markList
	m.markList = tup
}

// markElems scans every element of an already-marked short tuple.
func (m *Mem) markElems(markedTup Tup, markable markableFn) {
	hd := markedTup.Hd()
	words := hd.ShortWords()
	for i := uintptr(0); i < words; i++ {
		m.markAndPush(*markedTup.Elem(i), markable)
	}
}

// markPhase colors everything reachable from the roots.
func (m *Mem) markPhase(markable markableFn) {
	m.markList = 0
	// Write barrier first. Long tuples hold no references and minor
	// tuples are markable for any cycle (and their link word dies with
	// the evacuation), so both are unmarked and unlinked here; the rest
	// are scanned but stay linked for the rewrite pass.
	lst := &m.writeBarrier
	for {
		tup := *lst
		if tup == 0 {
			break
		}
		if tup.Hd().IsLong() || m.minor.contains(tup) {
			gcLog.Debugf("(mark) reject %#x", uintptr(tup))
			*lst = *m.markLink(tup)
			tup.SetHd(tup.Hd().Unmarked())
		} else {
			lst = m.markLink(tup)
			m.markElems(tup, markable)
		}
	}
	// Global table.
	for i := uintptr(0); i < m.global.top; i++ {
		m.markAndPush(m.global.vals[i], markable)
	}
	// Live call stack.
	for i := m.stack.top; i < m.stack.size; i++ {
		m.markAndPush(m.stack.vals[i], markable)
	}
	// Drain the intrusive worklist.
	for m.markList != 0 {
		markedTup := m.markList
		m.markList = *m.markLink(markedTup)
		m.markElems(markedTup, markable)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sweep (major) and evacuation (minor)
// ═══════════════════════════════════════════════════════════════════════════

// freeUnmarkedMajor unlinks and frees every unmarked tuple on the
// LEAVES and NODES lists, and resets survivors to white. IMMORTAL is
// never swept.
func (m *Mem) freeUnmarkedMajor() {
	for kind := majorListLeaves; kind <= majorListNodes; kind++ {
		lst := &m.majorList[kind]
		for {
			tup := *lst
			if tup == 0 {
				break
			}
			hd := tup.Hd()
			if hd.Color() != ColorBlack {
				words := TupWords(hd.Words()) + majorTupExtraWords
				m.majorAllocatedWords -= words
				*lst = *tup.next()
				gcLog.Debugf("(free) %#x (words %d)", uintptr(tup), words)
				m.freeMajor(tup)
			} else {
				tup.SetHd(hd.Unmarked())
				lst = tup.next()
			}
		}
	}
}

// readdress replaces a minor-heap tuple pointer with the forwarding
// value left in the source tuple's header slot. Literals, nulls and
// major addresses pass through untouched.
func (m *Mem) readdress(val *Val) {
	v := *val
	if !v.IsGC() {
		return
	}
	tup := v.Tup()
	if !m.minor.contains(tup) {
		return
	}
	*val = Val(tup.Hd())
}

// moveMinorToMajor evacuates every marked minor tuple and rewrites all
// dangling minor addresses. Copy first, rewrite after: the forwarding
// headers must all exist before the first rewrite.
func (m *Mem) moveMinorToMajor() {
	// The NODES head recorded now bounds the prefix of tuples created
	// by this evacuation.
	lastShort := m.majorList[majorListNodes]

	// Copy pass: walk the live minor region low to high, visiting each
	// tuple past its bookkeeping word.
	gcLog.Debug("(move) --- minor to major ---")
	p := m.minor.base() + (m.minor.top+minorTupExtraWords)*WordSize
	lim := m.minor.limit()
	for p < lim {
		tup := Tup(p)
		hd := tup.Hd()
		words := hd.Words()
		if hd.Color() != 0 {
			var newTup Tup
			if hd.IsLong() {
				newTup = m.allocMajorLong(hd.LongBytes())
			} else {
				newTup = m.allocMajorShort(hd.Tag(), words)
			}
			for i := uintptr(0); i < words; i++ {
				*newTup.Elem(i) = *tup.Elem(i)
			}
			gcLog.Debugf("(move) %#x -> %#x", uintptr(tup), uintptr(newTup))
			// The old header becomes the forwarding slot.
			tup.SetHd(Hd(TupVal(newTup)))
		}
		p += (TupWords(words) + minorTupExtraWords) * WordSize
	}

	// Rewrite pass 1: elements of the tuples this evacuation created.
	gcLog.Debug("(move) --- traverse new nodes ---")
	for tup := m.majorList[majorListNodes]; tup != 0 && tup != lastShort; tup = *tup.next() {
		words := tup.Hd().ShortWords()
		for i := uintptr(0); i < words; i++ {
			m.readdress(tup.Elem(i))
		}
	}

	// Rewrite pass 2: write-barrier tuples (major shorts only survive
	// to this point), unmarking as we go.
	gcLog.Debug("(move) --- traverse write barrier ---")
	for tup := m.writeBarrier; tup != 0; tup = *m.markLink(tup) {
		hd := tup.Hd()
		tup.SetHd(hd.Unmarked())
		words := hd.ShortWords()
		for i := uintptr(0); i < words; i++ {
			m.readdress(tup.Elem(i))
		}
	}

	// Rewrite pass 3: roots.
	gcLog.Debug("(move) --- traverse roots ---")
	for i := uintptr(0); i < m.global.top; i++ {
		m.readdress(&m.global.vals[i])
	}
	for i := m.stack.top; i < m.stack.size; i++ {
		m.readdress(&m.stack.vals[i])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Collection entry points
// ═══════════════════════════════════════════════════════════════════════════

// FullGC marks from all roots, frees dead major tuples, evacuates the
// minor heap and recomputes the threshold.
func (m *Mem) FullGC() {
	gcLog.Debugf("(full %d) start", m.majorGCCount)
	m.markPhase(m.markableMajor)
	m.freeUnmarkedMajor()
	m.moveMinorToMajor()
	m.minor.top = m.minor.size
	m.updateMajorGCThreshold()
	m.writeBarrier = 0
	m.majorGCCount++
	gcLog.Debugf("(full %d) done", m.majorGCCount)
}

// MinorGC evacuates the minor heap, escalating to a full collection
// when the projected major occupancy crosses the threshold.
func (m *Mem) MinorGC() {
	minorAllocated := m.minor.size - m.minor.top
	guess := m.majorAllocatedWords
	if guess > maxUintptr-minorAllocated {
		guess = maxUintptr
	} else {
		guess += minorAllocated
	}
	if guess >= m.majorGCThresholdWords {
		gcLog.Debugf("(minor %d) escalate to full GC (guess %d >= %d)",
			m.minorGCCount, guess, m.majorGCThresholdWords)
		m.FullGC()
		return
	}
	gcLog.Debugf("(minor %d) start", m.minorGCCount)
	m.markPhase(m.markableMinor)
	m.moveMinorToMajor()
	m.minor.top = m.minor.size
	m.writeBarrier = 0
	m.minorGCCount++
	gcLog.Debugf("(minor %d) done", m.minorGCCount)
}

// WriteBarrier registers a tuple whose element is about to be (or has
// just been) mutated and which may live in the major heap. A marked
// tuple is already registered or already a root of the running cycle.
func (m *Mem) WriteBarrier(tup Tup) {
	hd := tup.Hd()
	if hd.Color() != 0 {
		return
	}
	gcLog.Debugf("(barrier) %#x", uintptr(tup))
	tup.SetHd(hd.Marked())
	*m.markLink(tup) = m.writeBarrier
	m.writeBarrier = tup
}

// ═══════════════════════════════════════════════════════════════════════════
// Corruption checks
// ═══════════════════════════════════════════════════════════════════════════

// checkTupElems validates that every element of a short tuple is a
// literal or resolves to a live tuple.
func (m *Mem) checkTupElems(tup Tup) {
	hd := tup.Hd()
	if hd.IsLong() {
		return
	}
	words := hd.ShortWords()
	for i := uintptr(0); i < words; i++ {
		e := *tup.Elem(i)
		if !m.validVal(e) {
			fatalf("invalid value in tup %#x[%d/%d]: %#x", uintptr(tup), i, words, uintptr(e))
		}
	}
}

// validVal reports whether a word is a literal, null, or the address of
// a known tuple.
func (m *Mem) validVal(v Val) bool {
	if v.IsLiteral() {
		return true
	}
	tup := v.Tup()
	if tup == 0 || m.minor.contains(tup) {
		return true
	}
	_, ok := m.blocks[tup]
	return ok
}

// CheckInvariants walks the whole memory manager and faults on any
// inconsistency: a minor walk that misses the buffer end, a major list
// entry without a backing block, or an element word that resolves to
// nothing.
func (m *Mem) CheckInvariants() {
	// Minor heap walk must land exactly on the buffer limit.
	p := m.minor.base() + m.minor.top*WordSize
	lim := m.minor.limit()
	for p < lim {
		tup := Tup(p + minorTupExtraWords*WordSize)
		twords := TupWords(tup.Hd().Words())
		m.checkTupElems(tup)
		p += (twords + minorTupExtraWords) * WordSize
	}
	if p != lim {
		fatalf("minor heap headers may be corrupted")
	}
	// Major lists must be finite, registered and consistent.
	var words uintptr
	for kind := 0; kind < majorListKinds; kind++ {
		for tup := m.majorList[kind]; tup != 0; tup = *tup.next() {
			if _, ok := m.blocks[tup]; !ok {
				fatalf("major list %d entry %#x has no backing block", kind, uintptr(tup))
			}
			m.checkTupElems(tup)
			words += TupWords(tup.Hd().Words()) + majorTupExtraWords
		}
	}
	if words != m.majorAllocatedWords {
		fatalf("major allocation accounting off: lists hold %d words, counter says %d",
			words, m.majorAllocatedWords)
	}
	// Every live stack slot must be a valid value.
	for i := m.stack.top; i < m.stack.size; i++ {
		if !m.validVal(m.stack.vals[i]) {
			fatalf("invalid value in stack[%d/%d]: %#x", i, m.stack.size, uintptr(m.stack.vals[i]))
		}
	}
	for i := uintptr(0); i < m.global.top; i++ {
		if !m.validVal(m.global.vals[i]) {
			fatalf("invalid value in global[%d/%d]: %#x", i, m.global.top, uintptr(m.global.vals[i]))
		}
	}
}
