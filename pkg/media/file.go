package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileSource is the reference FrameSource used by cmd/rtspd: it replays a
// flat, length-prefixed frame container from disk, optionally looping.
// Real deployments supply their own FrameSource (live encoder, transcoder,
// etc.) — spec.md explicitly scopes the media source out as an external
// collaborator; this implementation only exists so the endpoint runs
// end-to-end without one.
type FileSource struct {
	path string
	loop bool
	info Info

	mu   sync.Mutex
	subs map[int]FrameSink
	next int

	done   chan struct{}
	closed bool
}

func NewFileSource(path string, info Info, loop bool) *FileSource {
	return &FileSource{
		path: path,
		loop: loop,
		info: info,
		subs: make(map[int]FrameSink),
		done: make(chan struct{}),
	}
}

func (s *FileSource) Info() Info { return s.info }

func (s *FileSource) Subscribe(sink FrameSink) (func(), error) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sink
	first := len(s.subs) == 1
	s.mu.Unlock()

	if first {
		go s.run()
	}

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *FileSource) Done() <-chan struct{} { return s.done }

func (s *FileSource) run() {
	for {
		if err := s.playOnce(); err != nil {
			close(s.done)
			return
		}
		if !s.loop {
			close(s.done)
			return
		}
	}
}

func (s *FileSource) playOnce() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	var last time.Duration
	for {
		fr, gap, err := readFrame(f)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if gap > last {
			time.Sleep(gap - last)
		}
		last = gap

		s.mu.Lock()
		sinks := make([]FrameSink, 0, len(s.subs))
		for _, snk := range s.subs {
			sinks = append(sinks, snk)
		}
		s.mu.Unlock()

		for _, snk := range sinks {
			_ = snk.OnFrame(fr)
		}
	}
}

// readFrame reads one container-format frame:
// kind(1) keyframe(1) dts(8) pts(8) pacing_ms(4) len(4) payload(len)
func readFrame(r io.Reader) (Frame, time.Duration, error) {
	var hdr [26]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return Frame{}, 0, err
	}

	kind := Kind(hdr[0])
	keyframe := hdr[1] != 0
	dts := int64(binary.BigEndian.Uint64(hdr[2:10]))
	pts := int64(binary.BigEndian.Uint64(hdr[10:18]))
	pacingMs := binary.BigEndian.Uint32(hdr[18:22])
	length := binary.BigEndian.Uint32(hdr[22:26])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, 0, fmt.Errorf("read frame payload: %w", err)
	}

	return Frame{Kind: kind, DTS: dts, PTS: pts, Keyframe: keyframe, Payload: payload},
		time.Duration(pacingMs) * time.Millisecond, nil
}

// WriteFrame appends one frame to a container file in FileSource's format;
// FileSink, the sink cmd/rtsppull records into, writes every frame with it.
func WriteFrame(w io.Writer, fr Frame, pacing time.Duration) error {
	var hdr [26]byte
	hdr[0] = byte(fr.Kind)
	if fr.Keyframe {
		hdr[1] = 1
	}
	binary.BigEndian.PutUint64(hdr[2:10], uint64(fr.DTS))
	binary.BigEndian.PutUint64(hdr[10:18], uint64(fr.PTS))
	binary.BigEndian.PutUint32(hdr[18:22], uint32(pacing/time.Millisecond))
	binary.BigEndian.PutUint32(hdr[22:26], uint32(len(fr.Payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(fr.Payload)
	return err
}

// FileServer adapts a FileSource into the Describer/Player pair
// cmd/rtspd wires into a Session: DESCRIBE answers with the source's
// fixed media_info, and PLAY always hands back the same source since
// there is exactly one stream per process in this reference server.
type FileServer struct {
	source *FileSource
}

func NewFileServer(source *FileSource) *FileServer {
	return &FileServer{source: source}
}

func (s *FileServer) Describe(ctx context.Context, url string, headers map[string]string, body []byte) (Info, error) {
	return s.source.Info(), nil
}

func (s *FileServer) Play(ctx context.Context, url string, headers map[string]string) (PlayResult, error) {
	return PlayResult{Kind: StreamSourceKind, Source: s.source}, nil
}

// FileSink is the reference FrameSink used by cmd/rtsppull: it appends
// every received frame to a container file on disk.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	done chan struct{}
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	return &FileSink{f: f, done: make(chan struct{})}, nil
}

func (s *FileSink) OnFrame(fr Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFrame(s.f, fr, 0)
}

func (s *FileSink) Done() <-chan struct{} { return s.done }

func (s *FileSink) Close() error {
	close(s.done)
	return s.f.Close()
}
