// Package rtcp implements spec.md's Timestamp Reconciler: ingesting
// sender reports to anchor a wall clock, emitting receiver reports, and
// encoding/decoding the custom FlFD application packet that carries the
// first_dts anchor across a relay hop. The design mirrors the
// rtcpReceiver actor the corpus' RTSP servers run per channel: a single
// goroutine owns all report-related state and is driven by channel
// events rather than locks.
package rtcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	pionrtcp "github.com/pion/rtcp"
)

// ntpUnixDeltaSeconds converts between the NTP epoch (1900-01-01) and the
// Unix epoch (1970-01-01), RFC 5905 §6.
const ntpUnixDeltaSeconds = 2208988800

// NTPToTime converts a 64-bit NTP timestamp (32-bit seconds, 32-bit
// fraction) to wall-clock time.
func NTPToTime(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpUnixDeltaSeconds
	fraction := uint32(ntp & 0xFFFFFFFF)
	nanos := int64(float64(fraction) / (1 << 32) * 1e9)
	return time.Unix(seconds, nanos).UTC()
}

// WallClockMillis computes the wall-clock millisecond timestamp spec.md's
// SR ingestion rule names directly: round((ntp/2^32 − 2208988800) · 1000).
func WallClockMillis(ntp uint64) int64 {
	seconds := float64(ntp) / (1 << 32)
	return int64(math.Round((seconds - ntpUnixDeltaSeconds) * 1000))
}

// TimeToNTP converts wall-clock time to a 64-bit NTP timestamp.
func TimeToNTP(t time.Time) uint64 {
	seconds := uint64(t.Unix() + ntpUnixDeltaSeconds)
	fraction := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return seconds<<32 | fraction
}

// SenderReportSync is the wall-clock anchor a channel learns from an
// inbound RTCP SR: at RTP timestamp RTPTime, the sender's wall clock read
// WallClock. Combined with a later packet's RTP timestamp this lets a
// receiver compute that packet's wall-clock time.
type SenderReportSync struct {
	SSRC      uint32
	RTPTime   uint32
	WallClock time.Time
}

// ParseSenderReport extracts a SenderReportSync from a raw RTCP packet
// buffer (which may bundle an SR with SDES/BYE, as real encoders do).
// It returns ok=false if the buffer contains no SR.
func ParseSenderReport(buf []byte) (SenderReportSync, bool, error) {
	packets, err := pionrtcp.Unmarshal(buf)
	if err != nil {
		return SenderReportSync{}, false, fmt.Errorf("unmarshal RTCP: %w", err)
	}
	for _, pkt := range packets {
		if sr, ok := pkt.(*pionrtcp.SenderReport); ok {
			return SenderReportSync{
				SSRC:      sr.SSRC,
				RTPTime:   sr.RTPTime,
				WallClock: NTPToTime(sr.NTPTime),
			}, true, nil
		}
	}
	return SenderReportSync{}, false, nil
}

// BuildReceiverReport encodes an RR for one source, per spec.md §4.7: one
// ReceptionReport carrying the cycle-extended sequence number, the middle
// 32 bits of the last SR's NTP timestamp (LSR), and the elapsed-since-SR
// delay in 1/65536s units (DLSR). fraction_lost, cumulative, and jitter
// are always zero, matching spec.md's literal RR emission rule.
func BuildReceiverReport(receiverSSRC, sourceSSRC uint32, seqCycles, lastSeq uint16, lastSR, dlsr uint32) ([]byte, error) {
	rr := &pionrtcp.ReceiverReport{
		SSRC: receiverSSRC,
		Reports: []pionrtcp.ReceptionReport{
			{
				SSRC:               sourceSSRC,
				LastSequenceNumber: uint32(seqCycles)<<16 | uint32(lastSeq),
				LastSenderReport:   lastSR,
				Delay:              dlsr,
			},
		},
	}
	return rr.Marshal()
}

// DLSRTicks converts an elapsed duration into RFC 3550 §6.4.1's DLSR
// units: 1/65536th of a second.
func DLSRTicks(elapsed time.Duration) uint32 {
	return uint32(elapsed.Seconds() * 65536)
}

// SenderReportMiddle32 extracts the middle 32 bits of a 64-bit NTP
// timestamp, the form RFC 3550 §6.4.1 requires for LastSenderReport.
func SenderReportMiddle32(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// flfdMagic is the ASCII tag spec.md's custom APP packet carries,
// "FlFD", identifying it among any other APP packets a relay might see.
var flfdMagic = [4]byte{'F', 'l', 'F', 'D'}

const (
	flfdPacketType = 204 // RTCP APP, RFC 3550 §6.7
	flfdSubtype    = 0
)

var ErrNotFlFD = errors.New("rtcp: not a FlFD application packet")

// BuildFlFDPacket encodes first_dts as a custom RTCP APP packet carrying
// round(first_dts * 90) in its 8-byte payload, per spec.md §4.6/§9. pion/rtcp
// has no ApplicationDefined type in this corpus' pinned version, so the
// 20-byte layout is assembled by hand from RFC 3550 §6.7's fixed fields.
func BuildFlFDPacket(ssrc uint32, firstDTS int64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(firstDTS*90))

	buf := make([]byte, 12+len(payload))
	buf[0] = 0x80 | flfdSubtype // V=2, P=0, subtype=0
	buf[1] = flfdPacketType
	lengthWords := uint16((len(buf) / 4) - 1)
	binary.BigEndian.PutUint16(buf[2:4], lengthWords)
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	copy(buf[8:12], flfdMagic[:])
	copy(buf[12:], payload)
	return buf
}

// ParseFlFDPacket decodes a FlFD APP packet built by BuildFlFDPacket,
// recovering first_dts (the inverse of round(first_dts*90)).
func ParseFlFDPacket(buf []byte) (int64, error) {
	if len(buf) < 20 {
		return 0, fmt.Errorf("%w: packet too short", ErrNotFlFD)
	}
	version := buf[0] >> 6
	if version != 2 || buf[1] != flfdPacketType {
		return 0, ErrNotFlFD
	}
	lengthWords := binary.BigEndian.Uint16(buf[2:4])
	if int(lengthWords+1)*4 > len(buf) {
		return 0, fmt.Errorf("%w: length field exceeds buffer", ErrNotFlFD)
	}
	var tag [4]byte
	copy(tag[:], buf[8:12])
	if tag != flfdMagic {
		return 0, ErrNotFlFD
	}
	scaled := int64(binary.BigEndian.Uint64(buf[12:20]))
	return scaled / 90, nil
}
