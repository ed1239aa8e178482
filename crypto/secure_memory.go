package crypto

import "runtime"

// Wipe zeroes key material in place. Keeping b alive past the stores stops
// the compiler from dropping them as dead writes.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
