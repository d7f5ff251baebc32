package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/kevinmarvin/Jaffree/media"
)

// Minimal EBML writers for building in-memory streams.

func mkEl(id uint64, children ...[]byte) []byte {
	var body []byte
	for _, c := range children {
		body = append(body, c...)
	}
	var b []byte
	switch {
	case id > 0xFFFFFF:
		b = append(b, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	case id > 0xFFFF:
		b = append(b, byte(id>>16), byte(id>>8), byte(id))
	case id > 0xFF:
		b = append(b, byte(id>>8), byte(id))
	default:
		b = append(b, byte(id))
	}
	n := len(body)
	switch {
	case n < 0x7F:
		b = append(b, 0x80|byte(n))
	case n < 0x3FFF:
		b = append(b, 0x40|byte(n>>8), byte(n))
	default:
		b = append(b, 0x20|byte(n>>16), byte(n>>8), byte(n))
	}
	return append(b, body...)
}

func mkUint(id uint64, v uint64) []byte {
	n := 1
	for x := v; x > 0xFF; x >>= 8 {
		n++
	}
	body := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		body[i] = byte(v)
		v >>= 8
	}
	return mkEl(id, body)
}

func mkFloat(id uint64, f float64) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, math.Float64bits(f))
	return mkEl(id, body)
}

func mkBlock(track byte, rel int16, flags byte, data []byte) []byte {
	body := []byte{0x80 | track, byte(uint16(rel) >> 8), byte(uint16(rel)), flags}
	return mkEl(0xA3, append(body, data...)) // SimpleBlock
}

// testStream builds a two-track stream: an uncompressed 320x240 video track,
// a big-endian PCM audio track, one cluster holding a video frame, an audio
// frame, and one record owned by a track the metadata never declared.
func testStream() []byte {
	videoPayload := make([]byte, 320*240*3/2)
	for i := range videoPayload {
		videoPayload[i] = byte(i)
	}
	audioPayload := []byte{0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF}

	stream := mkEl(0x1A45DFA3, mkEl(0x4282, []byte("matroska")))
	stream = append(stream, mkEl(0x18538067, // Segment
		mkEl(0x1549A966, mkUint(0x2AD7B1, 1_000_000)), // Info
		mkEl(0x1654AE6B, // Tracks
			mkEl(0xAE,
				mkUint(0xD7, 1),
				mkUint(0x83, 1), // video
				mkEl(0x536E, []byte("main")),
				mkEl(0x86, []byte("V_UNCOMPRESSED")),
				mkEl(0xE0, mkUint(0xB0, 320), mkUint(0xBA, 240)),
			),
			mkEl(0xAE,
				mkUint(0xD7, 2),
				mkUint(0x83, 2), // audio
				mkEl(0x86, []byte("A_PCM/INT/BIG")),
				mkEl(0xE1, mkFloat(0xB5, 44100), mkUint(0x9F, 2)),
			),
		),
		mkEl(0x1F43B675, // Cluster
			mkUint(0xE7, 1000),
			mkBlock(1, 0, 0x80, videoPayload),
			mkBlock(2, 5, 0x00, audioPayload),
			mkBlock(9, 6, 0x00, []byte{1, 2, 3, 4}),
		),
	)...)
	return stream
}

// collector records every Consumer callback for later assertions.
type collector struct {
	trackCalls [][]media.Track
	frames     []media.Frame
	sentinels  int
	afterEnd   int
}

func (c *collector) Tracks(tracks []media.Track) {
	c.trackCalls = append(c.trackCalls, tracks)
}

func (c *collector) Frame(frame media.Frame) {
	if frame == nil {
		c.sentinels++
		return
	}
	if c.sentinels > 0 {
		c.afterEnd++
	}
	c.frames = append(c.frames, frame)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDriverEndToEnd(t *testing.T) {
	t.Parallel()

	cons := &collector{}
	stats := NewStats()
	driver := New(cons, testLogger())
	driver.SetObserver(stats)

	if err := driver.Run(context.Background(), bytes.NewReader(testStream())); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(cons.trackCalls) != 1 {
		t.Fatalf("Tracks called %d times, want 1", len(cons.trackCalls))
	}
	tracks := cons.trackCalls[0]
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].ID != 1 || tracks[0].Type != media.TrackVideo || tracks[0].Title != "main" {
		t.Errorf("video track: %+v", tracks[0])
	}
	if tracks[1].ID != 2 || tracks[1].Type != media.TrackAudio || tracks[1].SampleRate != 44100 {
		t.Errorf("audio track: %+v", tracks[1])
	}

	if len(cons.frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(cons.frames))
	}
	vf, ok := cons.frames[0].(*media.VideoFrame)
	if !ok {
		t.Fatalf("first frame is %T, want *media.VideoFrame", cons.frames[0])
	}
	if vf.Timecode != 1000 || vf.Image.Bounds().Dx() != 320 || vf.Image.Bounds().Dy() != 240 {
		t.Errorf("video frame: timecode %d, bounds %v", vf.Timecode, vf.Image.Bounds())
	}
	af, ok := cons.frames[1].(*media.AudioFrame)
	if !ok {
		t.Fatalf("second frame is %T, want *media.AudioFrame", cons.frames[1])
	}
	if af.Timecode != 1005 || len(af.Samples) != 2 || af.Samples[0] != 1 || af.Samples[1] != -1 {
		t.Errorf("audio frame: timecode %d, samples %v", af.Timecode, af.Samples)
	}

	if cons.sentinels != 1 {
		t.Errorf("terminal frame delivered %d times, want 1", cons.sentinels)
	}
	if cons.afterEnd != 0 {
		t.Errorf("%d frames delivered after the terminal frame", cons.afterEnd)
	}

	snap := stats.Snapshot()
	if snap.Frames != 2 || snap.Dropped != 1 {
		t.Errorf("stats: frames %d dropped %d, want 2 and 1", snap.Frames, snap.Dropped)
	}
	if ts := snap.Tracks[1]; ts.Type != "video" || ts.Frames != 1 || ts.PayloadBytes != 320*240*3/2 {
		t.Errorf("video track stats: %+v", ts)
	}
	if ts := snap.Tracks[2]; ts.Type != "audio" || ts.LastTimecode != 1005 {
		t.Errorf("audio track stats: %+v", ts)
	}
}

func TestDriverMalformedInput(t *testing.T) {
	t.Parallel()

	cons := &collector{}
	driver := New(cons, testLogger())

	err := driver.Run(context.Background(), strings.NewReader("definitely not matroska"))
	if err == nil {
		t.Fatal("Run succeeded on garbage input")
	}
	if len(cons.trackCalls) != 0 {
		t.Error("track list emitted for a malformed stream")
	}
	if cons.sentinels != 0 {
		t.Error("terminal frame emitted after a failed run")
	}
}

func TestDriverRerunProducesIdenticalOutput(t *testing.T) {
	t.Parallel()

	stream := testStream()

	run := func() *collector {
		cons := &collector{}
		if err := New(cons, testLogger()).Run(context.Background(), bytes.NewReader(stream)); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return cons
	}

	first, second := run(), run()
	if len(first.frames) != len(second.frames) {
		t.Fatalf("frame counts differ: %d vs %d", len(first.frames), len(second.frames))
	}
	for i := range first.frames {
		if first.frames[i].Meta() != second.frames[i].Meta() {
			t.Errorf("frame %d meta differs: %+v vs %+v",
				i, first.frames[i].Meta(), second.frames[i].Meta())
		}
	}
}

func TestDriverContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cons := &collector{}
	err := New(cons, testLogger()).Run(ctx, bytes.NewReader(testStream()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if cons.sentinels != 0 {
		t.Error("terminal frame emitted after a cancelled run")
	}
}

func TestChannelConsumer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cons := NewChannelConsumer(ctx)
	driver := New(cons, testLogger())

	done := make(chan error, 1)
	go func() {
		done <- driver.Run(ctx, bytes.NewReader(testStream()))
	}()

	tracks := <-cons.TrackList()
	if len(tracks) != 2 {
		t.Errorf("got %d tracks, want 2", len(tracks))
	}

	var frames int
	for range cons.Frames() {
		frames++
	}
	if frames != 2 {
		t.Errorf("got %d frames, want 2", frames)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}
