// Command matmul runs the tiled matrix-multiply benchmark: C = A x B with
// tile staging through group-shared scratch memory, reproducing the classic
// shared-memory CUDA sample on the CPU runtime.
//
// Usage:
//
//	matmul -device=0 -wA=320 -hA=320 -wB=320 -hB=320 [-block=32] [-iter=300]
//
// Exit status is 0 when the result validates, 1 on validation failure or any
// fatal setup error.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/LynnColeArt/tilegrid"
)

func usage() {
	fmt.Println("Usage -device=n (n >= 0 for deviceID)")
	fmt.Println("      -wA=WidthA -hA=HeightA (Width x Height of Matrix A)")
	fmt.Println("      -wB=WidthB -hB=HeightB (Width x Height of Matrix B)")
	fmt.Println("      -block=n (tile size, 16 or 32)")
	fmt.Println("      -iter=n (timed kernel invocations)")
	fmt.Println("      -progress (show progress over the timed invocations)")
	fmt.Println("  Note: Outer matrix dimensions of A & B matrices must be equal.")
}

func main() {
	var (
		device    = flag.Int("device", 0, "compute device ID")
		wA        = flag.Int("wA", tilegrid.DefaultMatrixDim, "width of matrix A")
		hA        = flag.Int("hA", tilegrid.DefaultMatrixDim, "height of matrix A")
		wB        = flag.Int("wB", tilegrid.DefaultMatrixDim, "width of matrix B")
		hB        = flag.Int("hB", tilegrid.DefaultMatrixDim, "height of matrix B")
		blockSize = flag.Int("block", tilegrid.DefaultBlockSize, "tile size (16 or 32)")
		iter      = flag.Int("iter", tilegrid.DefaultIterations, "timed kernel invocations")
		progress  = flag.Bool("progress", false, "show progress over the timed invocations")
		help      = flag.Bool("help", false, "print usage and exit")
		helpAlt   = flag.Bool("?", false, "print usage and exit")
	)
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	fmt.Println("[Tiled Matrix Multiply] - Starting...")

	if *help || *helpAlt {
		usage()
		os.Exit(0)
	}

	if *wA != *hB {
		fmt.Printf("Error: outer matrix dimensions must be equal. (%d != %d)\n", *wA, *hB)
		os.Exit(1)
	}

	dev, err := tilegrid.DeviceByID(*device)
	if err != nil {
		klog.Errorf("Device selection failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("Device %d: %q, %d cores, %s memory\n",
		dev.ID, dev.Name, dev.NumCores, humanize.IBytes(dev.TotalMem))
	fmt.Printf("MatrixA(%d,%d), MatrixB(%d,%d)\n", *wA, *hA, *wB, *hB)

	ctx, err := tilegrid.NewContext(dev.ID)
	if err != nil {
		klog.Errorf("Context creation failed: %v", err)
		os.Exit(1)
	}
	defer ctx.Destroy()

	dims := tilegrid.MatMulDims{WA: *wA, HA: *hA, WB: *wB, HB: *hB}
	opts := tilegrid.BenchmarkOptions{
		BlockSize:  *blockSize,
		Iterations: *iter,
	}
	if *progress {
		bar := progressbar.Default(int64(*iter), "computing")
		opts.OnIteration = func(int) { bar.Add(1) }
	}

	fmt.Println("Computing result using cooperative tile kernel...")
	result, err := tilegrid.RunMatMul(ctx, dims, opts)
	if err != nil {
		klog.Errorf("Benchmark failed: %v", err)
		os.Exit(1)
	}
	fmt.Println("done")

	fmt.Printf("Performance= %.2f GFlop/s, Time= %.3f msec, Size= %.0f Ops, WorkgroupSize= %d threads/block\n",
		result.GFlops,
		float64(result.PerCall.Microseconds())/1000.0,
		result.Flops,
		result.UnitsPerGroup)

	fmt.Print("Checking computed result for correctness: ")
	for _, v := range result.Validation.Violations {
		fmt.Printf("Error! Matrix[%05d]=%.8f, ref=%.8f error term is > %E\n",
			v.Index, v.Got, v.Expected, tilegrid.ValidationEps)
	}
	if result.Passed() {
		fmt.Println("Result = PASS")
	} else {
		fmt.Println("Result = FAIL")
		os.Exit(1)
	}
}
