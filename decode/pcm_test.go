package decode

import (
	"encoding/binary"
	"testing"
)

func packSamples(order binary.ByteOrder, values []int32) []byte {
	buf := make([]byte, len(values)*SampleWidth)
	for i, v := range values {
		order.PutUint32(buf[i*SampleWidth:], uint32(v))
	}
	return buf
}

func TestSamplesRoundTripBigEndian(t *testing.T) {
	t.Parallel()

	want := []int32{0, 1, -1, 1 << 30, -(1 << 30), 0x7FFFFFFF}
	got := Samples(packSamples(binary.BigEndian, want), binary.BigEndian)
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSamplesRoundTripLittleEndian(t *testing.T) {
	t.Parallel()

	want := []int32{42, -42, 7}
	got := Samples(packSamples(binary.LittleEndian, want), binary.LittleEndian)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSamplesDropsPartialTrailingBytes(t *testing.T) {
	t.Parallel()

	buf := packSamples(binary.BigEndian, []int32{1, 2})
	buf = append(buf, 0xDE, 0xAD) // half a sample
	got := Samples(buf, binary.BigEndian)
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestSamplesEmpty(t *testing.T) {
	t.Parallel()

	if got := Samples(nil, binary.BigEndian); len(got) != 0 {
		t.Errorf("got %d samples for empty input, want 0", len(got))
	}
}
