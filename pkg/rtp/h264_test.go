package rtp_test

import (
	"math/rand"
	"testing"

	rtppkg "github.com/ethan/rtsp-session/pkg/rtp"
	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func avcFrame(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		l := uint32(len(n))
		out = append(out, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
		out = append(out, n...)
	}
	return out
}

func unmarshalAll(t *testing.T, raw [][]byte) []pionrtp.Packet {
	t.Helper()
	out := make([]pionrtp.Packet, len(raw))
	for i, b := range raw {
		require.NoError(t, out[i].Unmarshal(b))
	}
	return out
}

func TestH264PacketizationSumAndMarker(t *testing.T) {
	sps := append([]byte{0x67}, make([]byte, 10)...)
	pps := []byte{0x68, 0xCE}
	bigSlice := make([]byte, 5000)
	rand.New(rand.NewSource(1)).Read(bigSlice)
	bigSlice[0] = 0x65 // nal header, type 5 (IDR), forbidden_zero+nri bits ignored here

	frame := avcFrame(sps, pps, bigSlice)

	packetizer := rtppkg.NewH264Packetizer(1234, 90)
	raw, err := packetizer.Packetize(4, frame, 1000, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	packets := unmarshalAll(t, raw)

	markers := 0
	for _, p := range packets {
		if p.Marker {
			markers++
		}
	}
	require.Equal(t, 1, markers, "exactly one marker bit set on the last packet of the access unit")
	require.True(t, packets[len(packets)-1].Marker)

	decoder := rtppkg.NewH264Decoder(90)
	var got []byte
	for _, p := range packets {
		frames, err := decoder.Decode(p.Payload, p.SequenceNumber, p.Timestamp, p.Marker, 0)
		require.NoError(t, err)
		for _, f := range frames {
			got = f.Payload
		}
	}

	require.Equal(t, frame, got, "FU-A reassembly must reproduce the original AVC NALs byte for byte")
}

func TestH264PacketizeSetsCTSExtensionWhenPTSDiffersFromDTS(t *testing.T) {
	packetizer := rtppkg.NewH264Packetizer(1, 90)
	small := []byte{0x67, 0x01, 0x02}
	frame := avcFrame(small)

	raw, err := packetizer.Packetize(4, frame, 1000, 1100)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var pkt pionrtp.Packet
	require.NoError(t, pkt.Unmarshal(raw[0]))
	require.True(t, pkt.Extension)
	require.Equal(t, uint16(0x0007), pkt.ExtensionProfile)

	cts := rtppkg.ParseCTSExtension(raw[0])
	require.Equal(t, int32(9000), cts) // (1100-1000) units * 90 ticks/unit
}

func TestH264PacketizeMarshalRoundTrip(t *testing.T) {
	packetizer := rtppkg.NewH264Packetizer(42, 90)
	frame := avcFrame([]byte{0x67, 0xAA, 0xBB})
	raw, err := packetizer.Packetize(4, frame, 0, 0)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var decoded pionrtp.Packet
	require.NoError(t, decoded.Unmarshal(raw[0]))
	require.Equal(t, []byte{0x67, 0xAA, 0xBB}, decoded.Payload)
	require.False(t, decoded.Extension)
}

func TestH264DecoderAppliesCTSViaPTS(t *testing.T) {
	packetizer := rtppkg.NewH264Packetizer(7, 90)
	frame := avcFrame([]byte{0x65, 0x01, 0x02, 0x03})

	raw, err := packetizer.Packetize(4, frame, 2000, 2050)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var pkt pionrtp.Packet
	require.NoError(t, pkt.Unmarshal(raw[0]))
	cts := rtppkg.ParseCTSExtension(raw[0])
	require.NotZero(t, cts)

	decoder := rtppkg.NewH264Decoder(90)
	decoder.Sync(pkt.SequenceNumber, pkt.Timestamp)
	frames, err := decoder.Decode(pkt.Payload, pkt.SequenceNumber, pkt.Timestamp, pkt.Marker, cts)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, int64(0), frames[0].DTS)
	require.Equal(t, int64(50), frames[0].PTS)
}
