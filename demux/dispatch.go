// Package demux maps Matroska track metadata into normalized tracks and
// dispatches raw block records to the matching payload decoder, producing
// typed media frames.
package demux

import (
	"encoding/binary"
	"log/slog"

	"github.com/kevinmarvin/Jaffree/decode"
	"github.com/kevinmarvin/Jaffree/matroska"
	"github.com/kevinmarvin/Jaffree/media"
)

// codecPCMLittle is the Matroska codec ID for little-endian integer PCM.
// Other raw PCM variants store samples big endian.
const codecPCMLittle = "A_PCM/INT/LIT"

// MapTracks converts container track descriptors into normalized tracks,
// preserving container order. Tracks that are neither video nor audio are
// skipped. The audio sampling frequency is truncated to an integer.
func MapTracks(descs []matroska.TrackDescriptor) []media.Track {
	tracks := make([]media.Track, 0, len(descs))
	for _, desc := range descs {
		track := media.Track{
			ID:    desc.Number,
			Title: desc.Name,
		}
		switch desc.Type {
		case matroska.TrackTypeVideo:
			track.Type = media.TrackVideo
			if desc.Video != nil {
				track.Width = int(desc.Video.PixelWidth)
				track.Height = int(desc.Video.PixelHeight)
			}
		case matroska.TrackTypeAudio:
			track.Type = media.TrackAudio
			if desc.Audio != nil {
				track.SampleRate = int64(desc.Audio.SamplingFrequency)
				track.Channels = int(desc.Audio.Channels)
			}
		default:
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks
}

// Dispatcher routes raw block records to the payload decoder for the owning
// track. Records for unknown tracks or with undecodable payloads are
// dropped, never surfaced as errors.
type Dispatcher struct {
	log    *slog.Logger
	tracks map[uint64]media.Track
	orders map[uint64]binary.ByteOrder
	list   []media.Track
}

// NewDispatcher builds a Dispatcher from container track descriptors.
// If log is nil, slog.Default() is used.
func NewDispatcher(descs []matroska.TrackDescriptor, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:    log.With("component", "dispatch"),
		tracks: make(map[uint64]media.Track),
		orders: make(map[uint64]binary.ByteOrder),
		list:   MapTracks(descs),
	}
	for _, track := range d.list {
		d.tracks[track.ID] = track
	}
	for _, desc := range descs {
		if desc.Type != matroska.TrackTypeAudio {
			continue
		}
		if desc.CodecID == codecPCMLittle {
			d.orders[desc.Number] = binary.LittleEndian
		} else {
			d.orders[desc.Number] = binary.BigEndian
		}
	}
	return d
}

// Tracks returns the normalized track list in container order.
func (d *Dispatcher) Tracks() []media.Track { return d.list }

// Dispatch decodes one raw block record into a typed frame stamped with the
// record's track, timecode, and duration. The second return value is false
// when the record was dropped: unknown track number, a track type without a
// decoder, or a video payload too short for the track geometry.
func (d *Dispatcher) Dispatch(blk matroska.Block) (media.Frame, bool) {
	track, ok := d.tracks[blk.TrackNumber]
	if !ok {
		d.log.Debug("dropping block for unknown track",
			"track", blk.TrackNumber, "timecode", blk.Timecode)
		return nil, false
	}

	meta := media.FrameMeta{
		TrackID:  track.ID,
		Timecode: blk.Timecode,
		Duration: blk.Duration,
	}

	switch track.Type {
	case media.TrackVideo:
		img, err := decode.YUV420Image(blk.Data, track.Width, track.Height)
		if err != nil {
			d.log.Warn("dropping undecodable video block",
				"track", track.ID, "timecode", blk.Timecode, "error", err)
			return nil, false
		}
		return &media.VideoFrame{FrameMeta: meta, Image: img}, true

	case media.TrackAudio:
		samples := decode.Samples(blk.Data, d.orders[track.ID])
		return &media.AudioFrame{FrameMeta: meta, Samples: samples}, true

	default:
		return nil, false
	}
}
