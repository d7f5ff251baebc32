package decode

import "encoding/binary"

// SampleWidth is the width in bytes of one decoded audio sample.
const SampleWidth = 4

// Samples reinterprets raw PCM bytes as 32-bit signed integers in the given
// byte order, preserving element order. Trailing bytes that do not fill a
// whole sample are dropped.
func Samples(buf []byte, order binary.ByteOrder) []int32 {
	n := len(buf) / SampleWidth
	samples := make([]int32, n)
	for i := 0; i < n; i++ {
		samples[i] = int32(order.Uint32(buf[i*SampleWidth:]))
	}
	return samples
}
