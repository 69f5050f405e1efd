package ssm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════
// Collector tests
// ═══════════════════════════════════════════════════════════════════════════
//
//  1. Write barrier: generation-crossing stores survive a minor GC
//  2. Barrier edge cases: long tuples, double registration
//  3. Full-GC escalation through the threshold
//  4. Randomized invariant sweep
//
// ═══════════════════════════════════════════════════════════════════════════

// makeMajorShort allocates a short tuple and pushes it through a minor
// GC so it lands in the major heap.
func makeMajorShort(t *testing.T, m *Mem, tag, words uintptr) Tup {
	tup := m.NewTup(tag, words)
	for k := uintptr(0); k < words; k++ {
		*tup.Elem(k) = IntVal(0)
	}
	m.stack.pushR(TupVal(tup))
	m.MinorGC()
	moved := m.stack.popR().Tup()
	require.False(t, m.minor.contains(moved))
	return moved
}

func TestGC_WriteBarrierKeepsMinorChildAlive(t *testing.T) {
	// WHAT: a minor tuple whose only reference lives in a major tuple
	// survives a minor GC — but only because the store was registered
	// with the write barrier, which makes the major tuple a root.
	m := initMem(64, 100, 256, 16)
	major := makeMajorShort(t, m, 1, 2)

	child := m.NewLongTup(5)
	copy(child.Bytes(), "hello")
	require.True(t, m.minor.contains(child))

	*major.Elem(0) = TupVal(child)
	m.WriteBarrier(major)

	m.MinorGC()

	moved := (*major.Elem(0)).Tup()
	assert.NotEqual(t, child, moved, "child must have been evacuated")
	assert.False(t, m.minor.contains(moved))
	assert.Equal(t, "hello", string(moved.Bytes()))
	assert.Zero(t, m.writeBarrier, "barrier list is cleared by the cycle")
	assert.Equal(t, Hd(0), major.Hd().Color(), "barrier tuple is unmarked by the cycle")
	m.CheckInvariants()
}

func TestGC_WriteBarrierIsIdempotent(t *testing.T) {
	// WHAT: registering a marked tuple again must not relink it; the
	// barrier list would otherwise loop.
	m := initMem(64, 100, 256, 16)
	major := makeMajorShort(t, m, 1, 1)

	m.WriteBarrier(major)
	require.Equal(t, major, m.writeBarrier)
	require.Zero(t, *major.markMajor())

	m.WriteBarrier(major)
	assert.Equal(t, major, m.writeBarrier)
	assert.Zero(t, *major.markMajor(), "second registration must be a no-op")

	m.MinorGC()
	assert.Zero(t, m.writeBarrier)
}

func TestGC_WriteBarrierRejectsLongAndMinor(t *testing.T) {
	// WHAT: long tuples and minor tuples that end up on the barrier
	// list are unmarked and unlinked during the mark phase; neither can
	// carry references that need the barrier's guarantee.
	m := initMem(64, 100, 256, 16)
	longMajor := m.NewLongTup(80 * WordSize) // oversize: lands major
	minorTup := m.NewTup(1, 1)
	*minorTup.Elem(0) = IntVal(7)

	m.WriteBarrier(longMajor)
	m.WriteBarrier(minorTup)
	require.NotZero(t, m.writeBarrier)

	m.MinorGC()
	assert.Zero(t, m.writeBarrier)
	assert.Equal(t, Hd(0), longMajor.Hd().Color(), "rejected tuple must be unmarked")
	m.CheckInvariants()
}

func TestGC_MinorEscalatesToFull(t *testing.T) {
	// WHAT: once projected major occupancy crosses the threshold, a
	// minor collection runs as a full one and dead major tuples go
	// away.
	m := initMem(8, 100, 256, 16)
	// The threshold sits at its floor (8*7 = 56 words). Three rooted
	// 16-word tuples are always direct-major (footprint 2+17 each) and
	// push the occupancy to 57 words without tripping a full GC during
	// setup.
	for i := 0; i < 3; i++ {
		tup := m.NewTup(1, 16)
		for k := uintptr(0); k < 16; k++ {
			*tup.Elem(k) = IntVal(0)
		}
		m.stack.pushR(TupVal(tup))
	}
	require.Zero(t, m.majorGCCount)
	require.GreaterOrEqual(t, m.majorAllocatedWords, m.majorGCThresholdWords)

	// Drop the roots; the next minor GC must run as a full one.
	m.stack.top = m.stack.size
	m.MinorGC()
	assert.Equal(t, uintptr(1), m.majorGCCount, "minor GC must escalate")
	assert.Zero(t, m.majorAllocatedWords, "unreachable major tuples must be freed")
	m.CheckInvariants()
}

func TestGC_RandomizedInvariants(t *testing.T) {
	// WHAT: a long random walk over a four-slot root set — allocate and
	// root short tuples, mutate rooted tuples through the write
	// barrier, clear roots, allocate long tuples — with a full
	// invariant check after every operation: the minor walk terminates
	// exactly at the buffer end, every major list reaches null, every
	// element resolves to a live tuple and the allocation accounting
	// balances.
	const ops = 1_000_000

	m := initMem(64, 100, 256, 16)
	rng := rand.New(rand.NewSource(0x55a11ce))
	for i := 0; i < 4; i++ {
		m.global.push(IntVal(0))
	}

	for i := 0; i < ops; i++ {
		switch rng.Intn(4) {
		case 0: // allocate a short tuple and root it
			words := uintptr(1 + rng.Intn(6))
			tup := m.NewTup(uintptr(rng.Intn(8)), words)
			for k := uintptr(0); k < words; k++ {
				*tup.Elem(k) = m.global.vals[rng.Intn(4)]
			}
			m.global.vals[rng.Intn(4)] = TupVal(tup)

		case 1: // mutate a rooted tuple through the barrier
			v := m.global.vals[rng.Intn(4)]
			if !v.IsGC() || v == 0 {
				break
			}
			tup := v.Tup()
			hd := tup.Hd()
			if hd.IsLong() {
				if hd.LongBytes() > 0 {
					*tup.Byte(uintptr(rng.Intn(int(hd.LongBytes())))) = byte(rng.Intn(256))
				}
				break
			}
			*tup.Elem(uintptr(rng.Intn(int(hd.ShortWords())))) = m.global.vals[rng.Intn(4)]
			m.WriteBarrier(tup)

		case 2: // clear a root
			m.global.vals[rng.Intn(4)] = IntVal(0)

		case 3: // allocate a long tuple and root it
			n := uintptr(rng.Intn(5 * WordSize))
			tup := m.NewLongTup(n)
			for k := uintptr(0); k < n; k++ {
				*tup.Byte(k) = byte(k)
			}
			m.global.vals[rng.Intn(4)] = TupVal(tup)
		}
		m.CheckInvariants()
	}
}
