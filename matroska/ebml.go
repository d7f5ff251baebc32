package matroska

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
)

// unknownSize marks an EBML element whose size field is the all-ones vint.
// Muxers writing to non-seekable outputs use it for Segment and Cluster.
const unknownSize = ^uint64(0)

// maxElementSize bounds payloads read into memory. A sane frame payload is
// far below this; anything larger is a corrupt size field.
const maxElementSize = 256 << 20

// ErrMalformed reports a byte stream that does not parse as a Matroska
// container: bad magic, invalid vints, or truncated elements. I/O failures
// of the underlying source are returned unwrapped.
var ErrMalformed = errors.New("malformed matroska stream")

// ebmlReader wraps the byte source with position tracking and vint decoding.
// Forward-only: skipping discards through the buffer instead of seeking.
type ebmlReader struct {
	r   *bufio.Reader
	pos int64
}

func newEBMLReader(r io.Reader) *ebmlReader {
	return &ebmlReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (er *ebmlReader) readByte() (byte, error) {
	b, err := er.r.ReadByte()
	if err != nil {
		return 0, err
	}
	er.pos++
	return b, nil
}

func (er *ebmlReader) readN(n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n > maxElementSize {
		return nil, fmt.Errorf("%w: element of %d bytes exceeds sane bounds", ErrMalformed, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(er.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated element body", ErrMalformed)
		}
		return nil, err
	}
	er.pos += int64(n)
	return buf, nil
}

func (er *ebmlReader) skip(n uint64) error {
	for n > 0 {
		chunk := n
		if chunk > 1<<20 {
			chunk = 1 << 20
		}
		discarded, err := er.r.Discard(int(chunk))
		er.pos += int64(discarded)
		n -= uint64(discarded)
		if err != nil {
			if err == bufio.ErrBufferFull {
				continue
			}
			if err == io.EOF {
				return fmt.Errorf("%w: truncated element body", ErrMalformed)
			}
			return err
		}
	}
	return nil
}

// readVintID reads an element ID, keeping the length-marker bits. Returns
// io.EOF only when the stream ends cleanly before the first byte.
func (er *ebmlReader) readVintID() (uint64, error) {
	first, err := er.readByte()
	if err != nil {
		return 0, err
	}
	length := vintLength(first)
	if length == 0 {
		return 0, fmt.Errorf("%w: invalid element ID byte 0x%02X", ErrMalformed, first)
	}
	value := uint64(first)
	return er.readVintTail(value, length)
}

// readVintSize reads an element size, stripping the length-marker bits.
// The all-ones value maps to unknownSize.
func (er *ebmlReader) readVintSize() (uint64, error) {
	first, err := er.readByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, fmt.Errorf("%w: truncated element header: %v", ErrMalformed, err)
	}
	length := vintLength(first)
	if length == 0 {
		return 0, fmt.Errorf("%w: invalid size byte 0x%02X", ErrMalformed, first)
	}
	value := uint64(first & (0xFF >> length))
	value, err = er.readVintTail(value, length)
	if err != nil {
		return 0, err
	}
	if value == uint64(1)<<(uint(length)*7)-1 {
		return unknownSize, nil
	}
	return value, nil
}

func (er *ebmlReader) readVintTail(value uint64, length int) (uint64, error) {
	for i := 1; i < length; i++ {
		b, err := er.readByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("%w: truncated vint: %v", ErrMalformed, err)
		}
		value = value<<8 | uint64(b)
	}
	return value, nil
}

func vintLength(first byte) int {
	for i := 0; i < 8; i++ {
		if first&(1<<(7-uint(i))) != 0 {
			return i + 1
		}
	}
	return 0
}

// laceVint decodes an unsigned vint from an in-memory lace header.
func laceVint(buf []byte) (uint64, int, bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	length := vintLength(buf[0])
	if length == 0 || length > len(buf) {
		return 0, 0, false
	}
	value := uint64(buf[0] & (0xFF >> length))
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(buf[i])
	}
	return value, length, true
}

// laceVintSigned decodes a signed vint (EBML lace size delta).
func laceVintSigned(buf []byte) (int64, int, bool) {
	value, n, ok := laceVint(buf)
	if !ok {
		return 0, 0, false
	}
	bias := int64(1)<<(uint(n)*7-1) - 1
	return int64(value) - bias, n, true
}

func parseUint(buf []byte) (uint64, bool) {
	if len(buf) == 0 || len(buf) > 8 {
		return 0, false
	}
	var value uint64
	for _, b := range buf {
		value = value<<8 | uint64(b)
	}
	return value, true
}

func parseFloat(buf []byte) (float64, bool) {
	switch len(buf) {
	case 4:
		bits, _ := parseUint(buf)
		return float64(math.Float32frombits(uint32(bits))), true
	case 8:
		bits, _ := parseUint(buf)
		return math.Float64frombits(bits), true
	}
	return 0, false
}
