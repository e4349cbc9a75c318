package common

// WipeByteArray zeroes the contents of b in place. Use it to clear secrets
// such as passwords once they are no longer needed.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
