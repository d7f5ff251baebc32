package pipeline

import (
	"context"

	"github.com/kevinmarvin/Jaffree/media"
)

// Compile-time interface check.
var _ Consumer = (*ChannelConsumer)(nil)

// ChannelConsumer adapts the push-style Consumer callbacks into channel
// reads for callers that run the driver in its own goroutine. The frame
// channel is unbuffered, preserving the one-frame-in-flight contract, and
// is closed in place of delivering the terminal nil frame. Sends give up
// when the context is cancelled so an abandoned run cannot wedge the driver.
type ChannelConsumer struct {
	ctx    context.Context
	tracks chan []media.Track
	frames chan media.Frame
}

// NewChannelConsumer creates a ChannelConsumer bound to ctx.
func NewChannelConsumer(ctx context.Context) *ChannelConsumer {
	return &ChannelConsumer{
		ctx:    ctx,
		tracks: make(chan []media.Track, 1),
		frames: make(chan media.Frame),
	}
}

// TrackList returns the channel carrying the single track-list emission.
// It is closed after delivery.
func (c *ChannelConsumer) TrackList() <-chan []media.Track { return c.tracks }

// Frames returns the frame channel. It is closed at end-of-stream.
func (c *ChannelConsumer) Frames() <-chan media.Frame { return c.frames }

// Tracks implements Consumer.
func (c *ChannelConsumer) Tracks(tracks []media.Track) {
	select {
	case c.tracks <- tracks:
	case <-c.ctx.Done():
	}
	close(c.tracks)
}

// Frame implements Consumer.
func (c *ChannelConsumer) Frame(frame media.Frame) {
	if frame == nil {
		close(c.frames)
		return
	}
	select {
	case c.frames <- frame:
	case <-c.ctx.Done():
	}
}
