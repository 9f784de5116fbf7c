// Package tilegrid configuration constants
package tilegrid

// Tile sizes supported by the tiled multiply kernel. The kernel body is
// parametric; dispatch selects one of these by a runtime branch.
const (
	// BlockSize16 is the small tile edge (256 units per group)
	BlockSize16 = 16

	// BlockSize32 is the large tile edge (1024 units per group)
	BlockSize32 = 32

	// DefaultBlockSize is the tile edge used when none is requested
	DefaultBlockSize = BlockSize32
)

// Capacity limits, modeled after common GPU per-block limits. These are
// static preconditions of a launch, not runtime conditions.
const (
	// MaxUnitsPerGroup caps the number of cooperating units in one group
	MaxUnitsPerGroup = 1024

	// SharedMemPerGroup caps the scratch bytes one group may request
	SharedMemPerGroup = 48 * 1024
)

// Memory pool parameters
const (
	// MemoryAlignment for allocations (cache line size)
	MemoryAlignment = 64

	// defaultSystemMemory is reported when the platform probe is unavailable
	defaultSystemMemory = 16 * 1024 * 1024 * 1024
)

// Benchmark parameters
const (
	// DefaultIterations is the number of timed kernel invocations
	DefaultIterations = 300

	// DefaultMatrixDim is the default edge for both operand matrices
	DefaultMatrixDim = 320

	// ValB is the constant fill value for matrix B; A is filled with 1.0,
	// so every output element is analytically A.width * ValB
	ValB = 0.01

	// ValidationEps is the relative-error tolerance for the validator
	ValidationEps = 1e-6
)
