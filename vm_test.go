package ssm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════
// VM shell and configuration tests
// ═══════════════════════════════════════════════════════════════════════════

func TestConfig_Defaults(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, uintptr(262144), config.MinorHeapSize)
	assert.Equal(t, uintptr(262144), config.InitialStackSize)
	assert.Equal(t, uintptr(128), config.InitialGlobalSize)
	assert.Equal(t, uintptr(100), config.MajorGCThresholdPercent)
	assert.False(t, config.Debug)
}

func TestConfig_LoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssm.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"minor_heap_size = 4096\nmajor_gc_threshold_percent = 50\n"), 0o644))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, uintptr(4096), config.MinorHeapSize)
	assert.Equal(t, uintptr(50), config.MajorGCThresholdPercent)
	// Untouched keys keep their defaults.
	assert.Equal(t, uintptr(262144), config.InitialStackSize)
	assert.Equal(t, uintptr(128), config.InitialGlobalSize)
}

func TestConfig_LoadFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestVM_New(t *testing.T) {
	vm := NewVM(DefaultConfig())
	assert.Empty(t, vm.Chunks())
	assert.Zero(t, vm.GlobalCount())
	stats := vm.Mem().Stats()
	assert.Equal(t, uintptr(262144), stats.MinorSize)
	assert.Zero(t, stats.MinorUsed)
	vm.Mem().CheckInvariants()
}

func TestVM_LoadFile(t *testing.T) {
	raw := newAsm(0, 0).
		op(OpPUSHI).i32(42).
		op(OpRET).u16(0).
		build()
	path := filepath.Join(t.TempDir(), "prog.ssm")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	vm := testVM()
	c, err := vm.LoadFile(path)
	require.NoError(t, err)
	vm.Run(c)
	requireIntResult(t, vm, 42)
}

func TestVM_LoadFileMissing(t *testing.T) {
	vm := testVM()
	_, err := vm.LoadFile(filepath.Join(t.TempDir(), "missing.ssm"))
	assert.Error(t, err)
	assert.Empty(t, vm.Chunks())
}

func TestVM_LoadFileBadChunk(t *testing.T) {
	raw := newAsm(0, 0).build()
	raw[1] = 0xee // break the magic
	path := filepath.Join(t.TempDir(), "bad.ssm")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	vm := testVM()
	_, err := vm.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong magic number")
	assert.Contains(t, err.Error(), "bad.ssm", "diagnostic names the file")
}

func TestVM_LoadAndRun(t *testing.T) {
	vm := testVM()
	raw := newAsm(0, 0).
		op(OpPUSHI).i32(7).
		op(OpRET).u16(0).
		build()
	require.NoError(t, vm.LoadAndRun(raw))
	requireIntResult(t, vm, 7)
}

func TestVM_LoadAndRunRejected(t *testing.T) {
	vm := testVM()
	err := vm.LoadAndRun(newAsm(0, 0).raw(200).build())
	assert.Error(t, err)
	assert.Empty(t, vm.Chunks())
}

func TestVM_InstancesAreIsolated(t *testing.T) {
	// WHY: multiple VMs must not share heap or globals.
	vm1 := testVM()
	vm2 := testVM()
	require.NoError(t, vm1.LoadAndRun(newAsm(0, 1).
		op(OpPUSHI).i32(5).
		op(OpPOPSETGLOBAL).u32(0).
		op(OpPUSHI).i32(0).
		op(OpRET).u16(0).
		build()))
	assert.Equal(t, uintptr(1), vm1.GlobalCount())
	assert.Zero(t, vm2.GlobalCount())
	assert.Zero(t, vm2.Mem().Stats().MinorUsed)
}

func TestMem_Fini(t *testing.T) {
	m := initMem(64, 100, 256, 16)
	tup := m.NewTup(1, 100) // direct-major
	for k := uintptr(0); k < 100; k++ {
		*tup.Elem(k) = IntVal(0)
	}
	require.NotZero(t, m.majorAllocatedWords)
	m.fini()
	assert.Zero(t, m.majorAllocatedWords)
	for kind := 0; kind < majorListKinds; kind++ {
		assert.Zero(t, m.majorList[kind])
	}
}
