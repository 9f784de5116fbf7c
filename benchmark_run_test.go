package tilegrid

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMatMulEndToEnd(t *testing.T) {
	ctx := newTestContext(t)

	dims := MatMulDims{WA: 64, HA: 64, WB: 64, HB: 64}
	result, err := RunMatMul(ctx, dims, BenchmarkOptions{BlockSize: 16, Iterations: 3})
	require.NoError(t, err)

	assert.True(t, result.Passed())
	assert.Equal(t, dims, result.Dims)
	assert.Equal(t, 16, result.BlockSize)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 256, result.UnitsPerGroup)
	assert.Equal(t, float32(0.64), result.Expected)
	assert.Equal(t, 64*64, result.Validation.Checked)
	assert.Equal(t, 2.0*64*64*64, result.Flops)
	assert.Positive(t, result.Total)
	assert.Positive(t, result.GFlops)
}

func TestRunMatMulDefaults(t *testing.T) {
	ctx := newTestContext(t)

	// Zero options select the 32-tile and the standard iteration count;
	// keep the matrix small so the test stays quick
	dims := MatMulDims{WA: 32, HA: 32, WB: 32, HB: 32}
	result, err := RunMatMul(ctx, dims, BenchmarkOptions{Iterations: 2})
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, result.BlockSize)
	assert.True(t, result.Passed())
}

func TestRunMatMulIterationCallback(t *testing.T) {
	ctx := newTestContext(t)

	var calls int32
	dims := MatMulDims{WA: 32, HA: 32, WB: 32, HB: 32}
	_, err := RunMatMul(ctx, dims, BenchmarkOptions{
		BlockSize:   32,
		Iterations:  5,
		OnIteration: func(int) { atomic.AddInt32(&calls, 1) },
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestRunMatMulReleasesDeviceMemory(t *testing.T) {
	ctx := newTestContext(t)

	dims := MatMulDims{WA: 32, HA: 32, WB: 32, HB: 32}
	_, err := RunMatMul(ctx, dims, BenchmarkOptions{BlockSize: 32, Iterations: 1})
	require.NoError(t, err)

	stats := ctx.PoolStats()
	assert.Zero(t, stats.Allocated, "device operands must be freed after the run")
	assert.Positive(t, stats.Peak)
}

func TestRunMatMulRejectsBadBlockSize(t *testing.T) {
	ctx := newTestContext(t)

	dims := MatMulDims{WA: 24, HA: 24, WB: 24, HB: 24}
	_, err := RunMatMul(ctx, dims, BenchmarkOptions{BlockSize: 24, Iterations: 1})
	require.Error(t, err)
}
