package pipeline

import (
	"sync"

	"github.com/kevinmarvin/Jaffree/media"
)

// Compile-time interface check.
var _ Observer = (*Stats)(nil)

// TrackStats holds point-in-time decode counters for one track.
type TrackStats struct {
	Type         string `json:"type"`
	Frames       int64  `json:"frames"`
	PayloadBytes int64  `json:"payloadBytes"`
	LastTimecode int64  `json:"lastTimecode"`
}

// Snapshot is a point-in-time copy of a run's decode counters, suitable for
// JSON serialization.
type Snapshot struct {
	Tracks  map[uint64]TrackStats `json:"tracks"`
	Frames  int64                 `json:"frames"`
	Dropped int64                 `json:"dropped"`
}

// Stats is an Observer accumulating per-track frame counters. Snapshot may
// be called concurrently with a running driver.
type Stats struct {
	mu      sync.Mutex
	tracks  map[uint64]*TrackStats
	frames  int64
	dropped int64
}

// NewStats creates an empty Stats collector.
func NewStats() *Stats {
	return &Stats{tracks: make(map[uint64]*TrackStats)}
}

// FrameEmitted records one decoded frame and its raw payload size.
func (s *Stats) FrameEmitted(frame media.Frame, payloadBytes int) {
	meta := frame.Meta()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tracks[meta.TrackID]
	if ts == nil {
		ts = &TrackStats{}
		s.tracks[meta.TrackID] = ts
		switch frame.(type) {
		case *media.VideoFrame:
			ts.Type = media.TrackVideo.String()
		case *media.AudioFrame:
			ts.Type = media.TrackAudio.String()
		}
	}
	ts.Frames++
	ts.PayloadBytes += int64(payloadBytes)
	ts.LastTimecode = meta.Timecode
	s.frames++
}

// BlockDropped records one skipped raw record.
func (s *Stats) BlockDropped(trackNumber uint64, timecode int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

// Snapshot returns a copy of the accumulated counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Tracks:  make(map[uint64]TrackStats, len(s.tracks)),
		Frames:  s.frames,
		Dropped: s.dropped,
	}
	for id, ts := range s.tracks {
		snap.Tracks[id] = *ts
	}
	return snap
}
