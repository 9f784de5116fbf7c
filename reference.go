// Package tilegrid reference implementations for verification
package tilegrid

// Reference contains simple serial implementations used to verify the
// cooperative kernels.
type Reference struct{}

// MatMul computes c = a x b with the canonical triple loop. a is hA x wA,
// b is wA x wB, c is hA x wB, all row-major. Accumulation runs in float32
// to match the kernel's numeric semantics.
func (r Reference) MatMul(a, b, c []float32, hA, wA, wB int) {
	for i := 0; i < hA; i++ {
		for j := 0; j < wB; j++ {
			var sum float32
			for k := 0; k < wA; k++ {
				sum += a[i*wA+k] * b[k*wB+j]
			}
			c[i*wB+j] = sum
		}
	}
}

// TiledSchedule evaluates the cooperative kernel's exact staging schedule
// serially: the same element-to-unit mapping, the same wA strides for B and
// C, and the same m-outer k-inner accumulation order. It is the bit-exact
// oracle for the cooperative execution, not a canonical matrix multiply:
// the schedule's transposed tile staging contracts each block pair in
// reversed order, which coincides with a x b only for operands whose tiles
// commute (constant matrices, scaled identities).
func (r Reference) TiledSchedule(a, b, c []float32, hA, wA int, blockSize int) {
	bs := blockSize
	for by := 0; by < hA/bs; by++ {
		for bx := 0; bx < wA/bs; bx++ {
			for ty := 0; ty < bs; ty++ {
				for tx := 0; tx < bs; tx++ {
					var acc float32
					for m := 0; m < wA/bs; m++ {
						for k := 0; k < bs; k++ {
							acc += a[(by*bs+k)*wA+m*bs+tx] * b[(m*bs+ty)*wA+bx*bs+k]
						}
					}
					c[(by*bs+ty)*wA+bx*bs+tx] = acc
				}
			}
		}
	}
}
