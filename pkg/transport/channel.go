package transport

import (
	"net"
	"time"
)

// Content distinguishes a Channel's media type.
type Content int

const (
	ContentVideo Content = iota
	ContentAudio
)

// Channel is one per media track, per spec.md §3. The decoder field is an
// opaque external collaborator (pkg/rtp.Decoder); it is stored as `any`
// here so this package does not import pkg/rtp.
type Channel struct {
	Index      int // 0 or 1
	Content    Content
	Codec      string
	Timescale  uint32
	LengthSize int // H.264 AVC NAL length-prefix size, video channel only
	Decoder    any

	// Packetizer is an opaque *rtp.H264Packetizer or *rtp.AACPacketizer,
	// stored as `any` for the same reason as Decoder.
	Packetizer any

	// UDP transport state, present only in UDP mode.
	Ports *PortPair

	// Interleaved TCP channel ids, present only in TCP mode.
	RTPChannelID  byte
	RTCPChannelID byte
	Interleaved   bool

	SSRC         uint32
	LastSeq      uint16
	LastTimecode uint32
	LastNTP      uint64
	LastWallClockMS int64
	LastSRAt     time.Time
}

// Table is the fixed two-element channel table spec.md's design notes
// mandate in place of dynamic positional indexing: channel 0 is
// conventionally video, channel 1 audio. A nil slot means that media type
// is absent from the session.
type Table [2]*Channel

// Video returns the video channel, or nil if absent.
func (t *Table) Video() *Channel { return t[0] }

// Audio returns the audio channel, or nil if absent.
func (t *Table) Audio() *Channel { return t[1] }

// ByContent returns the channel for the given content type, or nil.
func (t *Table) ByContent(c Content) *Channel {
	if c == ContentVideo {
		return t[0]
	}
	return t[1]
}

// RemoteRTCPAddr resolves a channel's peer RTCP address for UDP mode.
func RemoteRTCPAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}
