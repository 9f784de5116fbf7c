// Package tilegrid provides a CUDA-style cooperative execution runtime for CPU,
// built around a tiled dense matrix-multiplication engine. Work is decomposed
// into a grid of independent groups; the units inside a group share a fast
// scratch buffer and coordinate through barriers, exactly as a GPU thread
// block shares on-chip memory under __syncthreads.
//
// Unlike a GPU runtime there is no implicit global context: callers construct
// and destroy the runtime state explicitly, which keeps tests deterministic.
//
// Example usage:
//
//	ctx, err := tilegrid.NewContext(0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	d_a, _ := ctx.Malloc(n * 4) // n float32s
//	ctx.Memcpy(d_a, h_a, n*4, tilegrid.MemcpyHostToDevice)
//
//	grid := tilegrid.Dim3{X: wB / 32, Y: hA / 32, Z: 1}
//	block := tilegrid.Dim3{X: 32, Y: 32, Z: 1}
//	ctx.LaunchCooperative(kernel, grid, block)
//	ctx.Synchronize()
package tilegrid

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Device represents a compute device. On this runtime that is the CPU with its
// cores and available memory. Each device has a unique ID and capabilities.
type Device struct {
	ID         int    // Unique device identifier
	Name       string // Human-readable device name
	TotalMem   uint64 // Total available memory in bytes
	NumCores   int    // Number of CPU cores
	MaxWorkers int    // Maximum groups executed concurrently
}

// Devices enumerates the available compute devices. There is exactly one:
// the CPU.
func Devices() []Device {
	return []Device{{
		ID:         0,
		Name:       "CPU",
		TotalMem:   getSystemMemory(),
		NumCores:   runtime.NumCPU(),
		MaxWorkers: runtime.NumCPU(),
	}}
}

// DeviceByID returns the device with the given ID, or a Device error if no
// such device exists.
func DeviceByID(id int) (Device, error) {
	devices := Devices()
	if id < 0 || id >= len(devices) {
		return Device{}, NewDeviceError("DeviceByID", fmt.Sprintf("invalid device ID: %d (have %d device(s))", id, len(devices)))
	}
	return devices[id], nil
}

// Context is the execution context for all runtime operations. It owns the
// memory pool and the streams, and must be destroyed when no longer needed.
// Contexts are explicit state: construct one per process (or per test) and
// tear it down deterministically.
type Context struct {
	device        Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
	workers       int
	destroyed     bool
}

// NewContext creates an execution context bound to the given device.
func NewContext(deviceID int) (*Context, error) {
	device, err := DeviceByID(deviceID)
	if err != nil {
		return nil, err
	}
	ctx := &Context{
		device:  device,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
		workers: device.MaxWorkers,
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx, nil
}

// Device returns the device this context is bound to.
func (ctx *Context) Device() Device {
	return ctx.device
}

// SetWorkers bounds how many groups may execute concurrently. A value of 1
// forces fully serial group execution; values below 1 restore the default.
// The numeric result of a kernel must not depend on this setting.
func (ctx *Context) SetWorkers(n int) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if n < 1 {
		n = ctx.device.MaxWorkers
	}
	ctx.workers = n
}

// Destroy synchronizes and releases all context resources: streams are
// drained and stopped, and the memory pool is released. The context must not
// be used afterwards.
func (ctx *Context) Destroy() error {
	ctx.mu.Lock()
	if ctx.destroyed {
		ctx.mu.Unlock()
		return NewInvalidArgError("Destroy", "context already destroyed")
	}
	ctx.destroyed = true
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ctx.memory.Release()
	return firstErr
}

// Dim3 represents 3D dimensions for grid and block configurations, matching
// CUDA's dim3 launch parameters.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies an execution unit's position within the launch
// hierarchy. It provides the same indexing semantics as CUDA's built-in
// blockIdx, threadIdx, blockDim and gridDim variables.
type ThreadID struct {
	BlockIdx  Dim3 // Group index within the grid
	ThreadIdx Dim3 // Unit index within the group
	BlockDim  Dim3 // Dimensions of the group
	GridDim   Dim3 // Dimensions of the grid
}

// Global returns the global linear X index.
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index.
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index.
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// Kernel is a flat data-parallel kernel: Execute is called once per unit with
// no intra-group coordination. Implementations must be safe for concurrent
// calls.
type Kernel interface {
	Execute(tid ThreadID, args ...interface{})
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc func(tid ThreadID, args ...interface{})

// Execute implements Kernel.
func (fn KernelFunc) Execute(tid ThreadID, args ...interface{}) {
	fn(tid, args...)
}

// CooperativeKernel is a kernel whose units cooperate through group-shared
// scratch memory and barriers. SharedBytes reports the scratch bytes one
// group requires; it is a static precondition checked against
// SharedMemPerGroup at launch.
type CooperativeKernel interface {
	SharedBytes() int
	Execute(tid ThreadID, grp *Group)
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order; operations in
// different streams may execute concurrently.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	firstErr error
}

// CreateStream creates a new execution stream owned by the context.
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// DefaultStream returns the context's default stream.
func (ctx *Context) DefaultStream() *Stream {
	return ctx.defaultStream
}

// Synchronize waits for all streams to complete. The first deferred
// execution error, if any, is returned.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// worker processes tasks for a stream.
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Submit adds a task to the stream.
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}

// Synchronize blocks until all tasks submitted so far have completed, and
// returns the first execution error recorded since the last call.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.firstErr
	s.firstErr = nil
	return err
}

// Close drains the stream and stops its worker.
func (s *Stream) Close() error {
	err := s.Synchronize()
	close(s.tasks)
	<-s.done
	return err
}

// setErr records the first deferred execution error on the stream.
func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}

// Event is an asynchronous completion marker recorded into a stream. The
// stream worker stamps the event with the current time when every operation
// submitted before it has finished, mirroring CUDA event semantics.
type Event struct {
	at   time.Time
	done chan struct{}
}

// Record submits a completion marker to the stream and returns it
// immediately.
func (s *Stream) Record() *Event {
	e := &Event{done: make(chan struct{})}
	s.Submit(func() {
		e.at = time.Now()
		close(e.done)
	})
	return e
}

// Synchronize blocks until the event has been reached by its stream.
func (e *Event) Synchronize() {
	<-e.done
}

// Elapsed returns the wall-clock duration between two completed events.
// Both events must have been synchronized (or otherwise known complete).
func Elapsed(start, stop *Event) time.Duration {
	return stop.at.Sub(start.at)
}
