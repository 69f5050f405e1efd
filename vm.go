// ═══════════════════════════════════════════════════════════════════════════
// SSM VM Shell
// ═══════════════════════════════════════════════════════════════════════════
//
// The VM owns one memory manager, the chunk list and the global table.
// Loading parses and verifies a chunk, then links it and grows the
// global table; running enters the interpreter at the chunk's entry
// point. A VM instance shares nothing with any other VM.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

import (
	"os"

	"github.com/pkg/errors"
)

// VM is one virtual machine instance.
type VM struct {
	mem    *Mem
	chunks []*Chunk
}

// NewVM builds a VM with the given geometry.
func NewVM(config Config) *VM {
	SetDebug(config.Debug)
	return &VM{
		mem: initMem(
			config.MinorHeapSize,
			config.MajorGCThresholdPercent,
			config.InitialStackSize,
			config.InitialGlobalSize,
		),
	}
}

// Mem exposes the memory manager (embedders, tests, stats).
func (vm *VM) Mem() *Mem {
	return vm.mem
}

// Chunks returns the loaded chunks in load order.
func (vm *VM) Chunks() []*Chunk {
	return vm.chunks
}

// GlobalCount is the current global table top.
func (vm *VM) GlobalCount() uintptr {
	return vm.mem.global.top
}

// Global reads a global slot.
func (vm *VM) Global(ix uintptr) Val {
	if ix >= vm.mem.global.top {
		fatalf("global index out of range (%d of %d)", ix, vm.mem.global.top)
	}
	return vm.mem.global.vals[ix]
}

// LoadBytes copies a raw chunk image into an aligned buffer, verifies
// it and links it into the VM. On any verification error the VM is
// untouched: no chunk is linked and no global slot appears.
func (vm *VM) LoadBytes(raw []byte) (*Chunk, error) {
	c := newChunk(raw)
	if err := c.parseHeader(); err != nil {
		return nil, err
	}
	if c.globalOffset != vm.mem.global.top {
		return nil, errors.Errorf("global offset mismatch: chunk declares %d, global top is %d",
			c.globalOffset, vm.mem.global.top)
	}
	if err := c.verify(c.globalOffset + c.globalCount); err != nil {
		return nil, err
	}
	vm.chunks = append(vm.chunks, c)
	for i := uintptr(0); i < c.globalCount; i++ {
		vm.mem.global.pushForce(IntVal(0))
	}
	log.Debugf("loaded chunk %d: %d bytes, globals [%d, %d)",
		len(vm.chunks)-1, c.Size(), c.globalOffset, c.globalOffset+c.globalCount)
	return c, nil
}

// LoadFile loads a chunk image from a file.
func (vm *VM) LoadFile(path string) (*Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read chunk %s", path)
	}
	c, err := vm.LoadBytes(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "load chunk %s", path)
	}
	return c, nil
}

// LoadAndRun loads a chunk and, when it verifies, executes it.
func (vm *VM) LoadAndRun(raw []byte) error {
	c, err := vm.LoadBytes(raw)
	if err != nil {
		return err
	}
	vm.Run(c)
	return nil
}

// chunkAt resolves a code address to its owning chunk.
func (vm *VM) chunkAt(addr uintptr) *Chunk {
	for _, c := range vm.chunks {
		if c.contains(addr) {
			return c
		}
	}
	fatalf("code address %#x outside any chunk", addr)
	return nil
}

// ChunkForGlobal resolves a global index to the chunk that declared it.
func (vm *VM) ChunkForGlobal(ix uintptr) *Chunk {
	for _, c := range vm.chunks {
		if c.globalOffset <= ix && ix < c.globalOffset+c.globalCount {
			return c
		}
	}
	return nil
}
