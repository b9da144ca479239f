package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethan/rtsp-session/pkg/logger"
	"github.com/ethan/rtsp-session/pkg/media"
	"github.com/ethan/rtsp-session/pkg/rtsp"
)

func main() {
	fs := flag.NewFlagSet("rtsppull", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	url := fs.String("url", "", "RTSP URL to pull a stream from")
	outPath := fs.String("out", "capture.media", "Path to write the captured frame container to")
	udp := fs.Bool("udp", false, "Use UDP RTP/RTCP transport instead of interleaved TCP")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -url rtsp://host/path [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Connects to a remote RTSP server, plays the stream, and records it to disk.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}
	if *url == "" {
		fs.Usage()
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	sink, err := media.NewFileSink(*outPath)
	if err != nil {
		log.Error().Err(err).Str("path", *outPath).Msg("failed to open capture file")
		os.Exit(1)
	}
	defer sink.Close()

	client := rtsp.NewClient(*url, log.With("component", "rtsp"))
	client.OnFrame = func(f media.Frame) {
		if err := sink.OnFrame(f); err != nil {
			log.Warn().Err(err).Msg("failed to write captured frame")
		}
	}

	if err := client.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("failed to connect")
		os.Exit(1)
	}
	defer client.Close()

	if _, err := client.Describe(); err != nil {
		log.Error().Err(err).Msg("DESCRIBE failed")
		os.Exit(1)
	}

	for trackIndex := 0; trackIndex < 2; trackIndex++ {
		var err error
		if *udp {
			err = client.SetupUDP(trackIndex)
		} else {
			err = client.SetupInterleaved(trackIndex)
		}
		if err != nil {
			log.Warn().Err(err).Int("track", trackIndex).Msg("SETUP failed for track")
		}
	}

	if err := client.Play(ctx); err != nil {
		log.Error().Err(err).Msg("PLAY failed")
		os.Exit(1)
	}

	log.Info().Str("url", *url).Str("out", *outPath).Msg("rtsppull streaming - press Ctrl+C to stop")

	if err := client.ReadLoop(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("read loop ended with error")
		os.Exit(1)
	}

	log.Info().Msg("rtsppull shutdown complete")
}
