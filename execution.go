package tilegrid

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is the group-scoped state handed to a cooperative kernel: the
// geometry of the group, its barrier, and its shared scratch arena. A Group
// is owned collectively by the units of one group and has no meaning outside
// that group's execution window.
type Group struct {
	BlockIdx Dim3 // This group's index within the grid
	BlockDim Dim3 // Units per group
	GridDim  Dim3 // Groups in the grid

	barrier *Barrier
	shared  []float32
}

// Sync suspends the calling unit until every unit in the group has also
// called Sync. Every unit must participate in every Sync, in the same order;
// a divergent Sync deadlocks the group, exactly as on GPU hardware.
func (g *Group) Sync() {
	g.barrier.Await()
}

// SharedFloat32 returns a float32 window [off, off+n) into the group's
// shared scratch arena. All units of the group observe the same storage.
// Writes become visible to other units after the next Sync.
func (g *Group) SharedFloat32(off, n int) []float32 {
	return g.shared[off : off+n : off+n]
}

// Launch executes a flat data-parallel kernel on the default stream.
// The kernel is executed across a grid of groups; units within a group run
// sequentially and must not rely on barriers.
//
// Example:
//
//	err := ctx.Launch(kernel, tilegrid.Dim3{X: 256, Y: 1, Z: 1}, tilegrid.Dim3{X: 64, Y: 1, Z: 1})
func (ctx *Context) Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchStream(kernel, grid, block, ctx.defaultStream, args...)
}

// LaunchStream executes a flat kernel on a specific stream.
func (ctx *Context) LaunchStream(kernel Kernel, grid, block Dim3, stream *Stream, args ...interface{}) error {
	if err := checkGeometry("Launch", grid, block, 0); err != nil {
		return err
	}
	if grid.Size() == 0 {
		// Submit an empty task to maintain stream ordering
		stream.Submit(func() {})
		return nil
	}

	workers := ctx.workerCount(grid.Size())
	stream.Submit(func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for blockID := 0; blockID < grid.Size(); blockID++ {
			blockIdx := linearTo3D(blockID, grid)
			g.Go(func() error {
				return runFlatBlock(kernel, blockIdx, grid, block, args...)
			})
		}
		if err := g.Wait(); err != nil {
			stream.setErr(err)
		}
	})
	return nil
}

// runFlatBlock executes all units of one group sequentially. Sequential
// execution inside a group maximizes cache reuse; only cooperative kernels
// pay for real intra-group concurrency.
func runFlatBlock(kernel Kernel, blockIdx, grid, block Dim3, args ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewLaunchError("Launch",
				fmt.Sprintf("kernel panic in block (%d,%d,%d): %v", blockIdx.X, blockIdx.Y, blockIdx.Z, r),
				blockIdx)
		}
	}()

	for threadID := 0; threadID < block.Size(); threadID++ {
		tid := ThreadID{
			BlockIdx:  blockIdx,
			ThreadIdx: linearTo3D(threadID, block),
			BlockDim:  block,
			GridDim:   grid,
		}
		kernel.Execute(tid, args...)
	}
	return nil
}

// LaunchCooperative executes a cooperative kernel on the default stream.
// Each group runs its block.Size() units as concurrently advancing
// goroutines sharing one scratch arena and one barrier; groups themselves
// are scheduled independently with no ordering between them. The launch is
// asynchronous: it returns once the work is queued, and failures surface
// from the next Synchronize.
func (ctx *Context) LaunchCooperative(kernel CooperativeKernel, grid, block Dim3) error {
	return ctx.LaunchCooperativeStream(kernel, grid, block, ctx.defaultStream)
}

// LaunchCooperativeStream executes a cooperative kernel on a specific
// stream.
func (ctx *Context) LaunchCooperativeStream(kernel CooperativeKernel, grid, block Dim3, stream *Stream) error {
	if err := checkGeometry("LaunchCooperative", grid, block, kernel.SharedBytes()); err != nil {
		return err
	}
	if grid.Size() == 0 {
		stream.Submit(func() {})
		return nil
	}

	sharedWords := (kernel.SharedBytes() + 3) / 4
	workers := ctx.workerCount(grid.Size())
	stream.Submit(func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for blockID := 0; blockID < grid.Size(); blockID++ {
			blockIdx := linearTo3D(blockID, grid)
			g.Go(func() error {
				return runCooperativeBlock(kernel, blockIdx, grid, block, sharedWords)
			})
		}
		if err := g.Wait(); err != nil {
			stream.setErr(err)
		}
	})
	return nil
}

// runCooperativeBlock runs one group: block.Size() unit goroutines over a
// fresh barrier and scratch arena. The arena lives exactly as long as the
// group.
func runCooperativeBlock(kernel CooperativeKernel, blockIdx, grid, block Dim3, sharedWords int) error {
	n := block.Size()
	grp := &Group{
		BlockIdx: blockIdx,
		BlockDim: block,
		GridDim:  grid,
		barrier:  NewBarrier(n),
	}
	if sharedWords > 0 {
		grp.shared = make([]float32, sharedWords)
	}

	var (
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicked interface{}
	)
	wg.Add(n)
	for threadID := 0; threadID < n; threadID++ {
		tid := ThreadID{
			BlockIdx:  blockIdx,
			ThreadIdx: linearTo3D(threadID, block),
			BlockDim:  block,
			GridDim:   grid,
		}
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if r != errBarrierBroken {
						panicMu.Lock()
						if panicked == nil {
							panicked = r
						}
						panicMu.Unlock()
					}
					// A dead unit would strand the rest of the group at the
					// next rendezvous; poison the barrier so they abort and
					// the launch can fail.
					grp.barrier.Break()
				}
			}()
			kernel.Execute(tid, grp)
		}()
	}
	wg.Wait()

	if panicked != nil {
		return NewLaunchError("LaunchCooperative",
			fmt.Sprintf("kernel panic in group (%d,%d,%d): %v", blockIdx.X, blockIdx.Y, blockIdx.Z, panicked),
			blockIdx)
	}
	return nil
}

// checkGeometry validates the static preconditions of a launch. Violations
// are resource exhaustion: the requested geometry exceeds what the runtime
// can host concurrently, detected before any work executes.
func checkGeometry(op string, grid, block Dim3, sharedBytes int) error {
	if grid.X < 0 || grid.Y < 0 || grid.Z < 0 || block.X < 0 || block.Y < 0 || block.Z < 0 {
		return NewInvalidArgError(op, fmt.Sprintf("negative dimension in grid %v or block %v", grid, block))
	}
	if block.Size() == 0 && grid.Size() > 0 {
		return NewInvalidArgError(op, "empty block with non-empty grid")
	}
	if block.Size() > MaxUnitsPerGroup {
		return NewResourceError(op,
			fmt.Sprintf("group of %d units exceeds the %d-unit capacity", block.Size(), MaxUnitsPerGroup))
	}
	if sharedBytes > SharedMemPerGroup {
		return NewResourceError(op,
			fmt.Sprintf("group requests %d bytes of shared scratch, capacity is %d", sharedBytes, SharedMemPerGroup))
	}
	return nil
}

// workerCount bounds concurrent groups by the context's worker setting.
func (ctx *Context) workerCount(gridSize int) int {
	ctx.mu.Lock()
	workers := ctx.workers
	ctx.mu.Unlock()
	if gridSize < workers {
		workers = gridSize
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// linearTo3D converts a linear index to 3D coordinates.
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}
