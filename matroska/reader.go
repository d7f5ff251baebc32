// Package matroska implements a forward-only reader for the Matroska/EBML
// container, yielding track descriptors and raw block records. It handles
// streamed output — Segment and Cluster elements with unknown size — since
// the usual byte source is a transcoder pipe that cannot seek.
package matroska

import (
	"fmt"
	"io"
)

// Element IDs from the Matroska DTD, in big-endian vint form with the
// length-marker bits kept.
const (
	idEBML            = 0x1A45DFA3
	idDocType         = 0x4282
	idSegment         = 0x18538067
	idSeekHead        = 0x114D9B74
	idInfo            = 0x1549A966
	idTimecodeScale   = 0x2AD7B1
	idTracks          = 0x1654AE6B
	idTrackEntry      = 0xAE
	idTrackNumber     = 0xD7
	idTrackUID        = 0x73C5
	idTrackType       = 0x83
	idTrackName       = 0x536E
	idCodecID         = 0x86
	idTrackVideo      = 0xE0
	idPixelWidth      = 0xB0
	idPixelHeight     = 0xBA
	idTrackAudio      = 0xE1
	idSamplingRate    = 0xB5
	idChannels        = 0x9F
	idCluster         = 0x1F43B675
	idClusterTimecode = 0xE7
	idSimpleBlock     = 0xA3
	idBlockGroup      = 0xA0
	idBlock           = 0xA1
	idBlockDuration   = 0x9B
	idCues            = 0x1C53BB6B
	idChapters        = 0x1043A770
	idTags            = 0x1254C367
	idAttachments     = 0x1941A469
	idVoid            = 0xEC
	idCRC32           = 0xBF
)

// Track type values as stored in a TrackEntry.
const (
	TrackTypeVideo    = 1
	TrackTypeAudio    = 2
	TrackTypeSubtitle = 0x11
)

// DefaultTimecodeScale is the timecode unit, in nanoseconds, assumed when
// the SegmentInfo does not state one: one millisecond.
const DefaultTimecodeScale = 1_000_000

// VideoDescriptor carries the video-specific metadata of a track entry.
type VideoDescriptor struct {
	PixelWidth  uint64
	PixelHeight uint64
}

// AudioDescriptor carries the audio-specific metadata of a track entry.
type AudioDescriptor struct {
	SamplingFrequency float64
	Channels          uint64
}

// TrackDescriptor is the container-supplied description of one track,
// prior to any normalization.
type TrackDescriptor struct {
	Number  uint64
	UID     uint64
	Type    uint8
	Name    string
	CodecID string
	Video   *VideoDescriptor
	Audio   *AudioDescriptor
}

// Block is one raw frame record: the payload of a SimpleBlock or a
// BlockGroup's Block, with lacing already unpacked into one record per
// laced frame. Timecode is absolute, in timecode-scale units.
type Block struct {
	TrackNumber uint64
	Timecode    int64
	Duration    int64 // zero when the container does not state one
	Keyframe    bool
	Data        []byte
}

// Reader demultiplexes a Matroska byte stream. Create one with NewReader,
// call ReadHeader, then NextBlock until it returns io.EOF. Reader is not
// safe for concurrent use.
type Reader struct {
	er            *ebmlReader
	tracks        []TrackDescriptor
	timecodeScale uint64
	clusterTime   int64
	queue         []Block
	headerDone    bool

	pendingID   uint64
	pendingSize uint64
	hasPending  bool
}

// NewReader wraps a raw Matroska byte stream. The reader buffers internally;
// r need not be buffered.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		er:            newEBMLReader(r),
		timecodeScale: DefaultTimecodeScale,
	}
}

// Tracks returns the track descriptors in container order. Valid after
// ReadHeader.
func (r *Reader) Tracks() []TrackDescriptor { return r.tracks }

// TimecodeScale returns the duration of one timecode unit in nanoseconds.
func (r *Reader) TimecodeScale() uint64 { return r.timecodeScale }

// ReadHeader consumes the EBML header and the Segment metadata up to the
// first Cluster, populating Tracks and TimecodeScale. Calling it again is a
// no-op.
func (r *Reader) ReadHeader() error {
	if r.headerDone {
		return nil
	}

	id, size, err := r.readElement()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty stream", ErrMalformed)
		}
		return err
	}
	if id != idEBML {
		return fmt.Errorf("%w: leading element 0x%X is not an EBML header", ErrMalformed, id)
	}
	if err := r.readEBMLHeader(size); err != nil {
		return err
	}

	id, _, err = r.readElement()
	if err != nil {
		return fmt.Errorf("%w: stream ends after EBML header", ErrMalformed)
	}
	if id != idSegment {
		return fmt.Errorf("%w: expected Segment, found element 0x%X", ErrMalformed, id)
	}
	// The Segment size is ignored: on pipes it is unknown, and its children
	// are walked directly either way.

	for {
		id, size, err = r.readElement()
		if err != nil {
			if err == io.EOF {
				if r.tracks != nil {
					// Metadata-only stream: valid, just frameless.
					r.headerDone = true
					return nil
				}
				return fmt.Errorf("%w: stream ends before track metadata", ErrMalformed)
			}
			return err
		}

		switch id {
		case idInfo:
			if err := r.readInfo(size); err != nil {
				return err
			}
		case idTracks:
			if err := r.readTracks(size); err != nil {
				return err
			}
		case idCluster:
			if r.tracks == nil {
				return fmt.Errorf("%w: cluster before track metadata", ErrMalformed)
			}
			r.pushBack(id, size)
			r.headerDone = true
			return nil
		default:
			if err := r.skipElement(id, size); err != nil {
				return err
			}
		}
	}
}

// NextBlock returns the next raw frame record, in stream order. It returns
// io.EOF once the stream is exhausted.
func (r *Reader) NextBlock() (Block, error) {
	if !r.headerDone {
		if err := r.ReadHeader(); err != nil {
			return Block{}, err
		}
	}

	for {
		if len(r.queue) > 0 {
			blk := r.queue[0]
			r.queue = r.queue[1:]
			return blk, nil
		}

		id, size, err := r.nextElement()
		if err != nil {
			return Block{}, err
		}

		switch id {
		case idCluster:
			// Children follow inline; an unknown-size cluster simply ends at
			// the next level-1 element.
			r.clusterTime = 0
		case idClusterTimecode:
			payload, err := r.er.readN(size)
			if err != nil {
				return Block{}, err
			}
			if value, ok := parseUint(payload); ok {
				r.clusterTime = int64(value)
			}
		case idSimpleBlock:
			payload, err := r.er.readN(size)
			if err != nil {
				return Block{}, err
			}
			if err := r.parseBlock(payload, 0, true); err != nil {
				return Block{}, err
			}
		case idBlockGroup:
			if err := r.readBlockGroup(size); err != nil {
				return Block{}, err
			}
		default:
			if err := r.skipElement(id, size); err != nil {
				return Block{}, err
			}
		}
	}
}

func (r *Reader) readEBMLHeader(size uint64) error {
	docType := ""
	err := r.walk(size, func(id, size uint64) error {
		if id != idDocType {
			return r.er.skip(size)
		}
		payload, err := r.er.readN(size)
		if err != nil {
			return err
		}
		docType = string(payload)
		return nil
	})
	if err != nil {
		return err
	}
	if docType != "matroska" && docType != "webm" {
		return fmt.Errorf("%w: unsupported doctype %q", ErrMalformed, docType)
	}
	return nil
}

func (r *Reader) readInfo(size uint64) error {
	return r.walk(size, func(id, size uint64) error {
		if id != idTimecodeScale {
			return r.er.skip(size)
		}
		payload, err := r.er.readN(size)
		if err != nil {
			return err
		}
		if value, ok := parseUint(payload); ok && value > 0 {
			r.timecodeScale = value
		}
		return nil
	})
}

func (r *Reader) readTracks(size uint64) error {
	if r.tracks == nil {
		r.tracks = []TrackDescriptor{}
	}
	return r.walk(size, func(id, size uint64) error {
		if id != idTrackEntry {
			return r.er.skip(size)
		}
		return r.readTrackEntry(size)
	})
}

func (r *Reader) readTrackEntry(size uint64) error {
	var desc TrackDescriptor
	err := r.walk(size, func(id, size uint64) error {
		switch id {
		case idTrackVideo:
			video := &VideoDescriptor{}
			if err := r.walk(size, func(id, size uint64) error {
				payload, err := r.er.readN(size)
				if err != nil {
					return err
				}
				switch id {
				case idPixelWidth:
					video.PixelWidth, _ = parseUint(payload)
				case idPixelHeight:
					video.PixelHeight, _ = parseUint(payload)
				}
				return nil
			}); err != nil {
				return err
			}
			desc.Video = video
			return nil
		case idTrackAudio:
			audio := &AudioDescriptor{}
			if err := r.walk(size, func(id, size uint64) error {
				payload, err := r.er.readN(size)
				if err != nil {
					return err
				}
				switch id {
				case idSamplingRate:
					if value, ok := parseFloat(payload); ok {
						audio.SamplingFrequency = value
					} else if value, ok := parseUint(payload); ok {
						audio.SamplingFrequency = float64(value)
					}
				case idChannels:
					audio.Channels, _ = parseUint(payload)
				}
				return nil
			}); err != nil {
				return err
			}
			desc.Audio = audio
			return nil
		case idTrackNumber, idTrackUID, idTrackType, idTrackName, idCodecID:
			payload, err := r.er.readN(size)
			if err != nil {
				return err
			}
			switch id {
			case idTrackNumber:
				desc.Number, _ = parseUint(payload)
			case idTrackUID:
				desc.UID, _ = parseUint(payload)
			case idTrackType:
				if value, ok := parseUint(payload); ok {
					desc.Type = uint8(value)
				}
			case idTrackName:
				desc.Name = string(payload)
			case idCodecID:
				desc.CodecID = string(payload)
			}
			return nil
		default:
			return r.er.skip(size)
		}
	})
	if err != nil {
		return err
	}
	r.tracks = append(r.tracks, desc)
	return nil
}

func (r *Reader) readBlockGroup(size uint64) error {
	var raw []byte
	var duration int64
	err := r.walk(size, func(id, size uint64) error {
		switch id {
		case idBlock:
			payload, err := r.er.readN(size)
			if err != nil {
				return err
			}
			raw = payload
			return nil
		case idBlockDuration:
			payload, err := r.er.readN(size)
			if err != nil {
				return err
			}
			if value, ok := parseUint(payload); ok {
				duration = int64(value)
			}
			return nil
		default:
			return r.er.skip(size)
		}
	})
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return r.parseBlock(raw, duration, false)
}

// parseBlock decodes a Block/SimpleBlock payload: track number vint, a
// signed 16-bit relative timecode, a flags byte, then frame data with
// optional lacing. Decoded frames are appended to the queue.
func (r *Reader) parseBlock(payload []byte, duration int64, simple bool) error {
	if len(payload) < 4 {
		return fmt.Errorf("%w: block of %d bytes is shorter than its header", ErrMalformed, len(payload))
	}
	trackLen := vintLength(payload[0])
	if trackLen == 0 || trackLen+3 > len(payload) {
		return fmt.Errorf("%w: invalid block track number", ErrMalformed)
	}
	track := uint64(payload[0] & (0xFF >> trackLen))
	for i := 1; i < trackLen; i++ {
		track = track<<8 | uint64(payload[i])
	}

	rel := int16(uint16(payload[trackLen])<<8 | uint16(payload[trackLen+1]))
	flags := payload[trackLen+2]
	data := payload[trackLen+3:]

	blk := Block{
		TrackNumber: track,
		Timecode:    r.clusterTime + int64(rel),
		Duration:    duration,
		Keyframe:    simple && flags&0x80 != 0,
	}

	lacing := (flags >> 1) & 0x03
	if lacing == 0 {
		blk.Data = data
		r.queue = append(r.queue, blk)
		return nil
	}

	laces, err := splitLaces(data, lacing)
	if err != nil {
		return err
	}
	for _, lace := range laces {
		laced := blk
		laced.Data = lace
		r.queue = append(r.queue, laced)
	}
	return nil
}

// splitLaces unpacks a laced block body into per-frame payloads. Lacing
// modes: 1 Xiph, 2 fixed, 3 EBML.
func splitLaces(data []byte, lacing byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: laced block without lace count", ErrMalformed)
	}
	count := int(data[0]) + 1
	data = data[1:]

	sizes := make([]int, count-1)
	switch lacing {
	case 1: // Xiph: 255-continued byte runs for all but the last lace.
		for i := range sizes {
			for {
				if len(data) == 0 {
					return nil, fmt.Errorf("%w: truncated Xiph lace sizes", ErrMalformed)
				}
				b := data[0]
				data = data[1:]
				sizes[i] += int(b)
				if b != 0xFF {
					break
				}
			}
		}
	case 2: // Fixed: equal division, no explicit sizes.
		if len(data)%count != 0 {
			return nil, fmt.Errorf("%w: fixed-laced block of %d bytes not divisible by %d", ErrMalformed, len(data), count)
		}
		for i := range sizes {
			sizes[i] = len(data) / count
		}
	case 3: // EBML: first size as a vint, then signed vint deltas.
		prev := 0
		for i := range sizes {
			if i == 0 {
				value, n, ok := laceVint(data)
				if !ok {
					return nil, fmt.Errorf("%w: truncated EBML lace sizes", ErrMalformed)
				}
				prev = int(value)
				data = data[n:]
			} else {
				delta, n, ok := laceVintSigned(data)
				if !ok {
					return nil, fmt.Errorf("%w: truncated EBML lace sizes", ErrMalformed)
				}
				prev += int(delta)
				data = data[n:]
			}
			if prev < 0 {
				return nil, fmt.Errorf("%w: negative EBML lace size", ErrMalformed)
			}
			sizes[i] = prev
		}
	}

	laces := make([][]byte, 0, count)
	offset := 0
	for _, size := range sizes {
		if offset+size > len(data) {
			return nil, fmt.Errorf("%w: lace sizes overrun block body", ErrMalformed)
		}
		laces = append(laces, data[offset:offset+size])
		offset += size
	}
	// The final lace is the remainder.
	return append(laces, data[offset:]), nil
}

// walk iterates the children of a known-size master element, handing each
// child's ID and size to visit, which must consume exactly that many bytes.
func (r *Reader) walk(size uint64, visit func(id, size uint64) error) error {
	if size == unknownSize {
		return fmt.Errorf("%w: master element with unknown size outside cluster scope", ErrMalformed)
	}
	start := r.er.pos
	for uint64(r.er.pos-start) < size {
		id, childSize, err := r.readElement()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: truncated master element", ErrMalformed)
			}
			return err
		}
		if childSize == unknownSize || uint64(r.er.pos-start)+childSize > size {
			return fmt.Errorf("%w: element 0x%X overruns its parent", ErrMalformed, id)
		}
		if err := visit(id, childSize); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) skipElement(id, size uint64) error {
	if size == unknownSize {
		return fmt.Errorf("%w: cannot skip unknown-size element 0x%X", ErrMalformed, id)
	}
	return r.er.skip(size)
}

func (r *Reader) readElement() (uint64, uint64, error) {
	id, err := r.er.readVintID()
	if err != nil {
		return 0, 0, err // io.EOF here is a clean end of stream
	}
	size, err := r.er.readVintSize()
	if err != nil {
		return 0, 0, err
	}
	return id, size, nil
}

func (r *Reader) nextElement() (uint64, uint64, error) {
	if r.hasPending {
		r.hasPending = false
		return r.pendingID, r.pendingSize, nil
	}
	return r.readElement()
}

func (r *Reader) pushBack(id, size uint64) {
	r.pendingID = id
	r.pendingSize = size
	r.hasPending = true
}
