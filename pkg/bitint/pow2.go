/*
Package bitint provides the power-of-2 helpers used to size the FFT and the
pool ring buffers.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Round a pool capacity up to a ring size that can be masked.
	slots := bitint.NextPowerOfTwo(maxCapacity) // 12 -> 16
	mask := uint64(slots - 1)

	// Verify FFT window size is valid
	isValid := bitint.IsPowerOfTwo(windowSize)

----------------------------------------------------------------------

NextPowerOfTwo subtracts one before looking for the highest set bit. For an
input that is already a power of 2 (8 = 1000b) the subtraction yields 0111b,
bits.Len reports 3 and 1<<3 gives back 8. Without the subtraction the same
input would be doubled to 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. Powers of 2 have exactly one bit
// set, so n&(n-1) clears it and leaves zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
