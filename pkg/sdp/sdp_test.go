package sdp_test

import (
	"testing"

	"github.com/ethan/rtsp-session/pkg/media"
	sdppkg "github.com/ethan/rtsp-session/pkg/sdp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	info := media.Info{
		Video: &media.VideoParams{
			PayloadType: 96,
			ClockRate:   90000,
			LengthSize:  4,
			SPS:         []byte{0x67, 0x42, 0x00, 0x1F},
			PPS:         []byte{0x68, 0xCE, 0x3C, 0x80},
		},
		Audio: &media.AudioParams{
			PayloadType:      97,
			ClockRate:        48000,
			Channels:         2,
			SizeLength:       13,
			IndexLength:      3,
			IndexDeltaLength: 3,
		},
	}

	raw, err := sdppkg.Encode(info)
	require.NoError(t, err)
	require.Contains(t, string(raw), "m=video")
	require.Contains(t, string(raw), "m=audio")
	require.Contains(t, string(raw), "a=control:trackID=0")
	require.Contains(t, string(raw), "a=control:trackID=1")

	decoded, err := sdppkg.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Video)
	require.NotNil(t, decoded.Audio)

	require.Equal(t, uint8(96), decoded.Video.PayloadType)
	require.Equal(t, uint32(90000), decoded.Video.ClockRate)
	require.Equal(t, info.Video.SPS, decoded.Video.SPS)
	require.Equal(t, info.Video.PPS, decoded.Video.PPS)

	require.Equal(t, uint8(97), decoded.Audio.PayloadType)
	require.Equal(t, uint32(48000), decoded.Audio.ClockRate)
	require.Equal(t, 2, decoded.Audio.Channels)
	require.Equal(t, 13, decoded.Audio.SizeLength)
}

func TestDecodeVideoOnly(t *testing.T) {
	info := media.Info{
		Video: &media.VideoParams{PayloadType: 96, ClockRate: 90000, LengthSize: 4},
	}
	raw, err := sdppkg.Encode(info)
	require.NoError(t, err)

	decoded, err := sdppkg.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Video)
	require.Nil(t, decoded.Audio)
}
