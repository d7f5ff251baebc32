// Package media defines the normalized track and frame types that flow
// through the decoding pipeline, from container demuxing to the consumer.
package media

import "image"

// TrackType classifies a normalized track.
type TrackType uint8

// Track types. Container tracks that are neither video nor audio are
// normalized to TrackUnknown and never produce frames.
const (
	TrackUnknown TrackType = iota
	TrackVideo
	TrackAudio
)

// String returns the lowercase name of the track type.
func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Track is the normalized description of one media stream within a
// container. It is built once from container metadata, before any frame is
// emitted, and is immutable afterwards.
type Track struct {
	ID    uint64
	Type  TrackType
	Title string

	// Video tracks only.
	Width  int
	Height int

	// Audio tracks only.
	SampleRate int64
	Channels   int
}

// FrameMeta carries the container timing shared by every frame kind. The
// timecode unit is defined by the container's timecode scale; Duration is
// zero when the container does not state one.
type FrameMeta struct {
	TrackID  uint64
	Timecode int64
	Duration int64
}

// Frame is the tagged union over decoded frame kinds, implemented only by
// *VideoFrame and *AudioFrame so dispatch sites can type-switch
// exhaustively. A nil Frame is the end-of-stream sentinel.
type Frame interface {
	Meta() FrameMeta

	sealed()
}

// VideoFrame is one decoded picture: the track's full width×height raster
// with fully opaque alpha.
type VideoFrame struct {
	FrameMeta
	Image *image.RGBA
}

// AudioFrame is one decoded run of interleaved audio samples.
type AudioFrame struct {
	FrameMeta
	Samples []int32
}

// Meta returns the frame's track and timing metadata.
func (f *VideoFrame) Meta() FrameMeta { return f.FrameMeta }

// Meta returns the frame's track and timing metadata.
func (f *AudioFrame) Meta() FrameMeta { return f.FrameMeta }

func (f *VideoFrame) sealed() {}
func (f *AudioFrame) sealed() {}
