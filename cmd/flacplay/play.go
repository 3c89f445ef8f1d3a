package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aoide-audio/flac"
	"github.com/ebitengine/oto/v3"
)

// readCommands forwards playback control commands typed on stdin.
func readCommands(commands chan<- string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		commands <- sc.Text()
	}
}

// play decodes the provided FLAC file and plays it through the default audio
// device, reacting to playback control commands.
func play(path string, commands <-chan string) error {
	stream, err := flac.Open(path)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Now Playing:", path)
	if stream.Comment != nil {
		if artist, ok := stream.Comment.Get("ARTIST"); ok {
			fmt.Println("Artist:", artist)
		}
		if title, ok := stream.Comment.Get("TITLE"); ok {
			fmt.Println("Track Title:", title)
		}
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(stream.Info.SampleRate),
		ChannelCount: int(stream.Info.NChannels),
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("failed to create audio context: %w", err)
	}
	<-ready

	// The decoder goroutine feeds 16-bit little-endian PCM through a pipe to
	// the audio device.
	pr, pw := io.Pipe()
	go decodeInto(pw, stream)

	player := ctx.NewPlayer(pr)
	defer player.Close()
	player.Play()
	slog.Info("playback started",
		"file", path,
		"rate", stream.Info.SampleRate,
		"channels", stream.Info.NChannels,
		"bits_per_sample", stream.Info.BitsPerSample)

	paused := false
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-commands:
			switch cmd {
			case "p":
				if paused {
					player.Play()
					slog.Info("playback resumed")
				} else {
					player.Pause()
					slog.Info("playback paused")
				}
				paused = !paused
			case "s", "q":
				slog.Info("playback stopped")
				pr.Close()
				return nil
			}
		case <-ticker.C:
			if !paused && !player.IsPlaying() {
				if err := player.Err(); err != nil {
					return err
				}
				slog.Debug("playback finished",
					"frames", stream.NumFrames(),
					"samples", stream.NumSamples())
				return nil
			}
		}
	}
}

// decodeInto decodes the stream frame by frame, converts the samples to
// 16-bit little-endian PCM, and writes them to w.
func decodeInto(w *io.PipeWriter, stream *flac.Stream) {
	// The audio device takes 16-bit samples; narrower streams are shifted up,
	// wider ones truncated.
	shift := int(stream.Info.BitsPerSample) - 16
	var buf []byte
	for {
		_, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				w.Close()
			} else {
				w.CloseWithError(err)
			}
			return
		}
		buf = buf[:0]
		for _, sample := range stream.Buffer() {
			s := sample
			if shift >= 0 {
				s >>= uint(shift)
			} else {
				s <<= uint(-shift)
			}
			buf = append(buf, byte(s), byte(s>>8))
		}
		if _, err := w.Write(buf); err != nil {
			// The player side hung up; stop decoding.
			return
		}
	}
}
