// Package rtp implements spec.md's RTP Codec component: outbound H.264
// FU-A packetization and AAC AU-header batching, and inbound per-codec
// depacketization through a shared Decoder interface.
package rtp

import "github.com/ethan/rtsp-session/pkg/media"

// Decoder is the per-channel codec-aware depacketizer spec.md's §6 names
// as an external collaborator ("init, sync, decode"). Sync applies an
// RTP-Info correction (spec.md §4.4): the decoder learns the sequence
// number and rtptime the peer claims the stream starts at.
//
// ctsTicks carries the H.264 CTS header-extension value in RTP ticks, or
// 0 when the packet carried none — 0 is an unambiguous sentinel for "no
// extension" because spec.md only sets the extension when CTS is
// non-zero (PTS != DTS) in the first place. AAC decoding ignores it.
type Decoder interface {
	Sync(seq uint16, rtptime uint32)
	Decode(payload []byte, seq uint16, timestamp uint32, marker bool, ctsTicks int32) ([]media.Frame, error)
}
