package rtp

import (
	"fmt"
	"math"
	"time"

	"github.com/ethan/rtsp-session/pkg/media"
	pionrtp "github.com/pion/rtp"
)

const (
	AACPayloadType = 97

	// RFC 3640 hbr AU-header field widths, per spec.md §6.
	aacSizeLength        = 13
	aacIndexLength       = 3
	aacIndexDeltaLength  = 3
	aacBatchMaxFrames    = 4
	aacBatchWindow       = 150 * time.Millisecond
)

// AACPacketizer batches up to 4 consecutive AAC frames received within
// 150ms into a single RFC 3640 AU-header-framed RTP packet, per spec.md
// §4.6.
type AACPacketizer struct {
	ssrc  uint32
	seq   uint16
	scale float64 // audio RTP clock rate, ticks per media-time unit

	pending   [][]byte
	firstDTS  int64
	firstAt   time.Time
}

func NewAACPacketizer(ssrc uint32, scale float64) *AACPacketizer {
	return &AACPacketizer{ssrc: ssrc, scale: scale}
}

// AddFrame buffers one AAC access unit. It returns a packet once either 4
// frames have accumulated or the 150ms batching window has elapsed since
// the first buffered frame (the caller drives the window with `now`).
func (p *AACPacketizer) AddFrame(body []byte, dts int64, now time.Time) ([]byte, error) {
	if len(p.pending) == 0 {
		p.firstDTS = dts
		p.firstAt = now
	}
	p.pending = append(p.pending, body)

	if len(p.pending) < aacBatchMaxFrames && now.Sub(p.firstAt) < aacBatchWindow {
		return nil, nil
	}
	return p.flush()
}

// Flush forces emission of whatever is currently buffered (e.g. on pause
// or teardown), returning nil if nothing is pending.
func (p *AACPacketizer) Flush() ([]byte, error) {
	if len(p.pending) == 0 {
		return nil, nil
	}
	return p.flush()
}

func (p *AACPacketizer) flush() ([]byte, error) {
	frames := p.pending
	p.pending = nil

	auHeaders := make([]byte, 0, 2*len(frames))
	var auData []byte
	for _, f := range frames {
		if len(f) >= 1<<aacSizeLength {
			return nil, fmt.Errorf("AAC frame too large for %d-bit size field", aacSizeLength)
		}
		header := uint16(len(f)) << aacIndexLength // size(13) + index(3)=0
		auHeaders = append(auHeaders, byte(header>>8), byte(header))
		auData = append(auData, f...)
	}

	headerLenBits := uint16(len(auHeaders) * 8)
	payload := make([]byte, 0, 2+len(auHeaders)+len(auData))
	payload = append(payload, byte(headerLenBits>>8), byte(headerLenBits))
	payload = append(payload, auHeaders...)
	payload = append(payload, auData...)

	timestamp := uint32(math.Round(float64(p.firstDTS) * p.scale))
	hdr := pionrtp.Header{
		Version:        2,
		Marker:         true,
		PayloadType:    AACPayloadType,
		SequenceNumber: p.seq,
		Timestamp:      timestamp,
		SSRC:           p.ssrc,
	}
	p.seq++

	raw, err := (&pionrtp.Packet{Header: hdr, Payload: payload}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal RTP header: %w", err)
	}
	return raw, nil
}

// AACDecoder reassembles inbound RFC 3640 AU-header-framed RTP packets
// into individual AAC access units, satisfying the Decoder interface.
type AACDecoder struct {
	scale float64

	baseRtptime uint32
	synced      bool
}

func NewAACDecoder(scale float64) *AACDecoder {
	return &AACDecoder{scale: scale}
}

func (d *AACDecoder) Sync(seq uint16, rtptime uint32) {
	d.baseRtptime = rtptime
	d.synced = true
}

func (d *AACDecoder) Decode(payload []byte, seq uint16, timestamp uint32, marker bool, ctsTicks int32) ([]media.Frame, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("AAC packet too short")
	}
	if !d.synced {
		d.baseRtptime = timestamp
		d.synced = true
	}

	auHeadersLengthBits := uint16(payload[0])<<8 | uint16(payload[1])
	auHeadersLengthBytes := int((auHeadersLengthBits + 7) / 8)
	if len(payload) < 2+auHeadersLengthBytes {
		return nil, fmt.Errorf("AAC packet malformed: AU-header section exceeds payload")
	}

	auHeaders := payload[2 : 2+auHeadersLengthBytes]
	auData := payload[2+auHeadersLengthBytes:]

	dts := int64(math.Round(float64(int32(timestamp-d.baseRtptime)) / d.scale))

	var frames []media.Frame
	offset := 0
	for len(auHeaders) >= 2 {
		auSize := int(uint16(auHeaders[0])<<8|uint16(auHeaders[1])) >> aacIndexLength
		auHeaders = auHeaders[2:]

		if offset+auSize > len(auData) {
			return nil, fmt.Errorf("AU size exceeds remaining payload")
		}
		frame := auData[offset : offset+auSize]
		offset += auSize

		frames = append(frames, media.Frame{Kind: media.Audio, DTS: dts, PTS: dts, Payload: frame})
	}
	return frames, nil
}
