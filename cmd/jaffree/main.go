package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kevinmarvin/Jaffree/demux"
	"github.com/kevinmarvin/Jaffree/ingest"
	"github.com/kevinmarvin/Jaffree/matroska"
	"github.com/kevinmarvin/Jaffree/media"
	"github.com/kevinmarvin/Jaffree/pipeline"
)

var version = "dev"

func main() {
	var debug, quiet bool

	root := &cobra.Command{
		Use:           "jaffree",
		Short:         "Decode Matroska streams into raw media frames",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if quiet {
				level = slog.LevelWarn
			}
			if debug || os.Getenv("DEBUG") != "" {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log warnings and errors only")
	root.AddCommand(tracksCommand(), framesCommand())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func tracksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tracks <file|->",
		Short: "Print the track list of a Matroska stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer input.Close()

			r := matroska.NewReader(input)
			if err := r.ReadHeader(); err != nil {
				return err
			}
			for _, track := range demux.MapTracks(r.Tracks()) {
				switch track.Type {
				case media.TrackVideo:
					fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\t%dx%d\t%s\n",
						track.ID, track.Type, track.Width, track.Height, track.Title)
				case media.TrackAudio:
					fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\t%d Hz, %d ch\t%s\n",
						track.ID, track.Type, track.SampleRate, track.Channels, track.Title)
				}
			}
			return nil
		},
	}
}

func framesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "frames <file|->",
		Short: "Decode every frame of a Matroska stream and report counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrames(cmd.Context(), args[0])
		},
	}
}

func runFrames(parent context.Context, path string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	input, err := openInput(path)
	if err != nil {
		return err
	}
	defer input.Close()

	log := slog.With("stream", uuid.NewString())
	meter := ingest.NewMeter(input)
	stats := pipeline.NewStats()

	g, gctx := errgroup.WithContext(ctx)
	cons := pipeline.NewChannelConsumer(gctx)
	driver := pipeline.New(cons, log)
	driver.SetObserver(stats)

	started := time.Now()

	g.Go(func() error {
		return driver.Run(gctx, meter)
	})

	g.Go(func() error {
		select {
		case tracks := <-cons.TrackList():
			for _, track := range tracks {
				log.Info("track",
					"id", track.ID,
					"type", track.Type.String(),
					"title", track.Title,
					"width", track.Width,
					"height", track.Height,
					"sampleRate", track.SampleRate,
					"channels", track.Channels,
				)
			}
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	g.Go(func() error {
		var video, audio int64
		for {
			select {
			case frame, ok := <-cons.Frames():
				if !ok {
					log.Info("decode finished", "videoFrames", video, "audioFrames", audio)
					return nil
				}
				switch frame.(type) {
				case *media.VideoFrame:
					video++
				case *media.AudioFrame:
					audio++
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	runErr := g.Wait()
	snap := stats.Snapshot()
	src := meter.Stats()

	if runErr != nil {
		log.Error("decode failed", "error", runErr, "bytesRead", src.BytesRead)
		return runErr
	}

	log.Info("summary",
		"frames", snap.Frames,
		"dropped", snap.Dropped,
		"bytesRead", src.BytesRead,
		"reads", src.ReadCount,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	for id, ts := range snap.Tracks {
		log.Info("track summary",
			"id", id,
			"type", ts.Type,
			"frames", ts.Frames,
			"payloadBytes", ts.PayloadBytes,
			"lastTimecode", ts.LastTimecode,
		)
	}
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
