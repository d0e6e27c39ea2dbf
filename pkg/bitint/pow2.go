/*
Package bitint provides the power-of-two helpers used when sizing convolution
blocks and FFT frames.

Every session block size must be a power of two so the frequency-domain frame
(twice the block) is a power of two as well. The helpers here are allocation
free and safe to call from the audio path.

Usage:

	if !bitint.IsPowerOfTwo(blockSize) {
		return fmt.Errorf("block size %d is not a power of two", blockSize)
	}
	frame := bitint.NextPowerOfTwo(2*blockSize - 1) // == 2*blockSize

The subtraction in NextPowerOfTwo keeps exact powers of two unchanged:
bits.Len(7) = 3 and 1<<3 = 8, whereas bits.Len(8) = 4 would double the input.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Sizes <= 0 return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns floor(log2(n)) for n >= 1 and 0 otherwise.
func Log2(n int) int {
	if n <= 0 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

// CeilDiv returns ceil(a/b) for positive b. It is used to count filter
// partitions: a 1000 tap filter at block size 256 needs CeilDiv(1000, 256) = 4.
func CeilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
