// Package media defines the collaborators the session controller calls out
// to but does not implement itself: the media source that feeds a server
// Session, the consumer that receives frames in client mode, and the
// optional segment-listing endpoints. These mirror the external interfaces
// spec.md names in its §6 and leaves as host-application responsibilities.
package media

import (
	"context"
	"errors"
)

// Sentinel errors a Describer/Announcer implementation returns to select
// the Session's mapped response code, per spec.md §6's collaborator
// contract (`{error, authentication|no_media_info|enoent}`).
var (
	ErrAuthentication = errors.New("media: authentication required")
	ErrNoMediaInfo    = errors.New("media: no media info")
	ErrNotFound       = errors.New("media: not found")
)

// Kind distinguishes a frame's media type, matching the two channel slots
// a Session ever holds (video=0, audio=1).
type Kind int

const (
	Video Kind = iota
	Audio
)

// VideoParams describes the H.264 stream as carried in SDP/fmtp.
type VideoParams struct {
	PayloadType uint8
	ClockRate   uint32 // RTP timescale, typically 90000
	LengthSize  int    // AVC NAL length-prefix size, 2 or 4
	SPS         []byte
	PPS         []byte
}

// AudioParams describes the AAC stream as carried in SDP/fmtp.
type AudioParams struct {
	PayloadType  uint8
	ClockRate    uint32 // typically 48000 or 44100
	Channels     int
	SizeLength   int // RFC 3640 AU-header sizelength, 13 here
	IndexLength  int // 3
	IndexDeltaLength int // 3
}

// Info is a Session's media_info: the parsed stream descriptor carrying
// both tracks' parameters. A nil field means that track is absent.
type Info struct {
	Video *VideoParams
	Audio *AudioParams
}

// Frame is one access unit handed across the media/session boundary,
// tagged with the DTS/PTS media-time units spec.md's §4.6/§4.7 operate on.
type Frame struct {
	Kind      Kind
	DTS       int64
	PTS       int64
	Keyframe  bool
	Payload   []byte // AVC length-prefixed NALs for video, raw AAC AU for audio
}

// Describer answers DESCRIBE: given the resolved URL and request headers
// (carrying any auth), it returns the stream's media_info or a typed
// error the caller maps to 401/404.
type Describer interface {
	Describe(ctx context.Context, url string, headers map[string]string, body []byte) (Info, error)
}

// SourceKind distinguishes the two flow_type values spec.md's data model
// names: a live stream (pause just suspends) vs. a seekable file.
type SourceKind int

const (
	StreamSourceKind SourceKind = iota
	FileSourceKind
)

// FrameSource is subscribed to by a PLAY handler; it pushes frames until
// unsubscribed or it exits unexpectedly (signaled via Done).
type FrameSource interface {
	Subscribe(sink FrameSink) (unsubscribe func(), err error)
	Done() <-chan struct{}
}

// FrameSink receives frames, in client mode from inbound RTP decoding, in
// server mode as the session forwards subscribed frames onward to codec
// packetization. Done reports the consumer's own death.
type FrameSink interface {
	OnFrame(Frame) error
	Done() <-chan struct{}
}

// PlayResult is what a Player returns for a successful PLAY: the flow
// type spec.md's data model names plus the source to subscribe to.
type PlayResult struct {
	Kind   SourceKind
	Source FrameSource
}

// Player answers PLAY for a client connecting to a remote stream.
type Player interface {
	Play(ctx context.Context, url string, headers map[string]string) (PlayResult, error)
}

// Announcer answers ANNOUNCE for a client pushing to a remote sink.
type Announcer interface {
	Announce(ctx context.Context, url string, headers map[string]string, info Info) (FrameSink, error)
}

// SegmentLister and SegmentGetter back the optional LIST_SEGMENTS and
// GET_SEGMENT methods; a Session without one configured replies 405.
type SegmentLister interface {
	ListSegments(path string) ([]byte, error)
}

type SegmentGetter interface {
	GetSegment(path, segment string) ([]byte, error)
}
