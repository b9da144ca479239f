package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethan/rtsp-session/pkg/config"
	"github.com/ethan/rtsp-session/pkg/logger"
	"github.com/ethan/rtsp-session/pkg/media"
	"github.com/ethan/rtsp-session/pkg/rtsp"
)

func main() {
	fs := flag.NewFlagSet("rtspd", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	envPath := fs.String("env", ".env", "Optional .env file to load configuration from")
	listenAddr := fs.String("listen", "", "Listen address, overrides RTSP_LISTEN_ADDR/default")
	mediaPath := fs.String("media", "", "Path to a frame container file to serve, overrides RTSP_MEDIA_PATH")
	loop := fs.Bool("loop", true, "Loop the media file once it reaches EOF")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Serves one looping media file as an RTSP/RTP/RTCP session endpoint.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
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

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *mediaPath != "" {
		cfg.MediaPath = *mediaPath
	}
	cfg.Loop = *loop
	if cfg.MediaPath == "" {
		log.Error().Msg("no media path configured: set -media or RTSP_MEDIA_PATH")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	info := media.Info{
		Video: &media.VideoParams{PayloadType: 96, ClockRate: 90000, LengthSize: 4},
		Audio: &media.AudioParams{PayloadType: 97, ClockRate: 48000, Channels: 2, SizeLength: 13, IndexLength: 3, IndexDeltaLength: 3},
	}
	source := media.NewFileSource(cfg.MediaPath, info, cfg.Loop)
	server := media.NewFileServer(source)
	collab := rtsp.Collaborators{Describer: server, Player: server}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to listen")
		os.Exit(1)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("media", cfg.MediaPath).Msg("rtspd listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		connLog := log.With("remote", conn.RemoteAddr().String())
		go func() {
			defer conn.Close()
			sess := rtsp.NewSession(conn, collab, connLog)
			if err := sess.Serve(ctx); err != nil && ctx.Err() == nil {
				connLog.DebugSession("session ended", map[string]any{"error": err.Error()})
			}
		}()
	}

	log.Info().Msg("rtspd shutdown complete")
}
