package tilegrid

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of memory transfer. In the unified
// memory model these are provided for API symmetry with the GPU runtime;
// all memory is CPU-accessible, but the direction still documents intent
// and is reported in transfer errors.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
)

// String returns the transfer direction name for diagnostics.
func (k MemcpyKind) String() string {
	switch k {
	case MemcpyHostToHost:
		return "HostToHost"
	case MemcpyHostToDevice:
		return "HostToDevice"
	case MemcpyDeviceToHost:
		return "DeviceToHost"
	case MemcpyDeviceToDevice:
		return "DeviceToDevice"
	default:
		return "Unknown"
	}
}

// DevicePtr represents a pointer to device memory. It provides type-safe
// access through the slice view methods and sub-region access through
// Offset. The zero value is a null pointer.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead, and pins backing buffers so views stay valid.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []byte // backing storage, kept to pin the memory
	ptr  unsafe.Pointer
	size int
	used bool
}

// PoolStats reports current and peak bytes held by a pool.
type PoolStats struct {
	Allocated int64
	Peak      int64
}

// NewMemoryPool creates a new memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// Malloc allocates device memory of the specified size in bytes, aligned
// for SIMD access. Fails with an Allocation error for non-positive sizes.
//
// Example:
//
//	ptr, err := ctx.Malloc(1024 * 4) // Allocate 1024 float32s
//	if err != nil {
//		return err
//	}
//	defer ctx.Free(ptr)
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc. The memory may be
// retained in the pool for future allocations.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// PoolStats returns the context's memory pool statistics.
func (ctx *Context) PoolStats() PoolStats {
	return ctx.memory.Stats()
}

// Memcpy copies memory between host and device. Supported operands are
// DevicePtr, []byte and []float32 on either side. The copy is synchronous
// and bit-exact: a host buffer round-tripped through device memory compares
// equal byte for byte.
//
// Parameters:
//   - dst: Destination (DevicePtr or Go slice)
//   - src: Source (DevicePtr or Go slice)
//   - size: Number of bytes to copy
//   - kind: Transfer direction, used for diagnostics
//
// Example:
//
//	h_data := make([]float32, 1024)
//	d_data, _ := ctx.Malloc(1024 * 4)
//	ctx.Memcpy(d_data, h_data, 1024*4, tilegrid.MemcpyHostToDevice)
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	if size < 0 {
		return NewTransferError("Memcpy", fmt.Sprintf("%s: negative size %d", kind, size), nil)
	}

	dstBytes, err := transferBytes("Memcpy", dst, size, kind)
	if err != nil {
		return err
	}
	srcBytes, err := transferBytes("Memcpy", src, size, kind)
	if err != nil {
		return err
	}

	if size > 0 {
		copy(dstBytes[:size], srcBytes[:size])
	}
	return nil
}

// transferBytes resolves a Memcpy operand to a byte view of at least size
// bytes.
func transferBytes(op string, operand interface{}, size int, kind MemcpyKind) ([]byte, error) {
	var b []byte
	switch v := operand.(type) {
	case DevicePtr:
		if v.ptr == nil {
			return nil, NewTransferError(op, fmt.Sprintf("%s: null device pointer", kind), nil)
		}
		b = v.Byte()
	case []byte:
		b = v
	case []float32:
		if len(v) > 0 {
			b = unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
		}
	default:
		return nil, NewTransferError(op, fmt.Sprintf("%s: unsupported operand type %T", kind, operand), nil)
	}
	if len(b) < size {
		return nil, NewTransferError(op,
			fmt.Sprintf("%s: operand holds %d bytes, need %d", kind, len(b), size), nil)
	}
	return b, nil
}

// MemoryPool methods

// Allocate allocates memory from the pool.
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true

			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}

			return DevicePtr{ptr: alloc.ptr, size: size}, nil
		}
	}

	// Allocate new backing storage. A failed make() panics rather than
	// returning nil, so convert that into an Allocation error.
	var buf []byte
	if err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewAllocationError("Malloc",
					fmt.Sprintf("cannot obtain %d bytes", alignedSize), fmt.Errorf("%v", r))
			}
		}()
		buf = make([]byte, alignedSize)
		return nil
	}(); err != nil {
		return DevicePtr{}, err
	}

	alloc := &allocation{
		buf:  buf,
		ptr:  unsafe.Pointer(&buf[0]),
		size: alignedSize,
		used: true,
	}
	mp.allocated[uintptr(alloc.ptr)] = alloc

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{ptr: alloc.ptr, size: size}, nil
}

// Free returns memory to the pool.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return NewAllocationError("Free", "pointer not found in allocation pool", nil)
	}
	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)
	return nil
}

// Release drops all allocations and the free list. Outstanding DevicePtrs
// become invalid.
func (mp *MemoryPool) Release() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.allocated = make(map[uintptr]*allocation)
	mp.freeList = nil
	mp.totalAlloc = 0
}

// Stats returns memory pool statistics.
func (mp *MemoryPool) Stats() PoolStats {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return PoolStats{Allocated: mp.totalAlloc, Peak: mp.peakAlloc}
}

// DevicePtr methods

// Float32 returns a float32 slice view of the device memory.
// The slice can be used directly for reading and writing data.
//
// Example:
//
//	d_data, _ := ctx.Malloc(1024 * 4) // Allocate for 1024 float32s
//	data := d_data.Float32()
//	data[0] = 3.14 // Direct access
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(d.ptr), d.size/4)
}

// Byte returns a byte slice view covering the entire memory region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// The returned DevicePtr shares the same underlying memory.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Add(d.ptr, bytes),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region.
func (d DevicePtr) Size() int {
	return d.size
}

// IsNull reports whether the pointer is the zero value.
func (d DevicePtr) IsNull() bool {
	return d.ptr == nil
}
