// Package transport implements spec.md's Transport Manager: UDP port-pair
// binding, interleaved-TCP framing, and per-channel RTP/RTCP demultiplexing.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const interleavedMagic = '$'

// InterleavedFrame is one `$`-framed RTP/RTCP block read off the control
// socket, per spec.md §4.2/§4.5.
type InterleavedFrame struct {
	Channel byte
	Payload []byte
}

// WriteInterleaved prefixes payload with `$` + channel id + big-endian
// length and writes it to w, per spec.md §4.5.
func WriteInterleaved(w io.Writer, channel byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("interleaved payload too large: %d bytes", len(payload))
	}
	var hdr [4]byte
	hdr[0] = interleavedMagic
	hdr[1] = channel
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// PeekKind reports what the next bytes on r are, without consuming them
// beyond the peek: an interleaved frame magic byte, or plain text (an RTSP
// request/response line). Mirrors the combinedReader/peek-first-byte
// dispatch used on both the client and server sides of the protocol.
func PeekKind(r *bufio.Reader) (isInterleaved bool, err error) {
	b, err := r.Peek(1)
	if err != nil {
		return false, err
	}
	return b[0] == interleavedMagic, nil
}

// ReadInterleaved reads one complete `$`-framed block from r. The caller
// must have already confirmed via PeekKind that the next byte is '$'.
func ReadInterleaved(r *bufio.Reader) (InterleavedFrame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return InterleavedFrame{}, err
	}
	if hdr[0] != interleavedMagic {
		return InterleavedFrame{}, fmt.Errorf("desync: expected '$', got %q", hdr[0])
	}

	channel := hdr[1]
	length := binary.BigEndian.Uint16(hdr[2:4])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return InterleavedFrame{}, fmt.Errorf("read interleaved payload: %w", err)
	}

	return InterleavedFrame{Channel: channel, Payload: payload}, nil
}

// IsRTPChannel reports whether an interleaved channel id carries RTP (even)
// as opposed to RTCP (odd), per spec.md's invariant "RTP flows on even
// interleaved-channel bytes 2i, RTCP on odd 2i+1".
func IsRTPChannel(channel byte) bool { return channel%2 == 0 }

// ChannelIndex returns the track index (0=video, 1=audio by convention)
// an interleaved channel id belongs to.
func ChannelIndex(channel byte) int { return int(channel / 2) }

// InterleavedChannel returns the RTP (or RTCP, if rtcp) interleaved channel
// id for a given track index.
func InterleavedChannel(trackIndex int, rtcp bool) byte {
	if rtcp {
		return byte(trackIndex*2 + 1)
	}
	return byte(trackIndex * 2)
}
