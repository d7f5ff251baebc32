// Package pipeline drives the end-to-end decode sequence for one stream:
// read the container metadata, emit the track list, then decode and emit
// frames one at a time until the byte source is exhausted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kevinmarvin/Jaffree/demux"
	"github.com/kevinmarvin/Jaffree/matroska"
	"github.com/kevinmarvin/Jaffree/media"
)

// Consumer receives the decoded output of a Driver. Tracks is invoked
// exactly once, before any frame. Frame is invoked once per decoded frame,
// synchronously — the driver reads no further input until it returns — and
// exactly once more with a nil frame when the stream ends.
type Consumer interface {
	Tracks(tracks []media.Track)
	Frame(frame media.Frame)
}

// Observer receives decode telemetry. An Observer is an injected hook, not
// part of the decode contract; all methods are called from the goroutine
// running the driver.
type Observer interface {
	FrameEmitted(frame media.Frame, payloadBytes int)
	BlockDropped(trackNumber uint64, timecode int64)
}

// Driver owns the decode sequencing for a single stream. It is synchronous
// and pull-based: consumer processing time back-pressures the source read,
// and at most one frame is in flight.
type Driver struct {
	log      *slog.Logger
	consumer Consumer
	obs      Observer
}

// New creates a Driver emitting to consumer. If log is nil, slog.Default()
// is used.
func New(consumer Consumer, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		log:      log.With("component", "driver"),
		consumer: consumer,
	}
}

// SetObserver attaches a telemetry hook invoked for every emitted frame and
// every dropped record.
func (d *Driver) SetObserver(obs Observer) { d.obs = obs }

// Run reads one Matroska stream from input until exhaustion: the track list
// is emitted first, then each decodable frame in stream order, then the nil
// terminal frame, exactly once. Records owned by unknown or non-media
// tracks are dropped silently. Container and I/O failures are returned and
// suppress the terminal frame. The context is checked between records;
// closing the byte source remains the primary way to stop a run.
func (d *Driver) Run(ctx context.Context, input io.Reader) error {
	r := matroska.NewReader(input)
	if err := r.ReadHeader(); err != nil {
		return fmt.Errorf("reading container metadata: %w", err)
	}

	dispatcher := demux.NewDispatcher(r.Tracks(), d.log)
	tracks := dispatcher.Tracks()
	d.log.Info("track metadata read",
		"tracks", len(tracks), "timecodeScale", r.TimecodeScale())
	d.consumer.Tracks(tracks)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		blk, err := r.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.log.Info("stream ended")
				d.consumer.Frame(nil)
				return nil
			}
			return fmt.Errorf("reading frame records: %w", err)
		}
		d.log.Debug("block read",
			"track", blk.TrackNumber, "timecode", blk.Timecode, "bytes", len(blk.Data))

		frame, ok := dispatcher.Dispatch(blk)
		if !ok {
			if d.obs != nil {
				d.obs.BlockDropped(blk.TrackNumber, blk.Timecode)
			}
			continue
		}
		if d.obs != nil {
			d.obs.FrameEmitted(frame, len(blk.Data))
		}
		d.consumer.Frame(frame)
	}
}
