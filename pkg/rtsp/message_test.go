package rtsp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{
		Method: "SETUP",
		URL:    "rtsp://host/11/trackID=0",
		CSeq:   3,
		Header: map[string]string{"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1"},
	}
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "SETUP", got.Method)
	require.Equal(t, "rtsp://host/11/trackID=0", got.URL)
	require.Equal(t, 3, got.CSeq)
	require.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1", got.Header["Transport"])
}

func TestResponseRoundTripWithBody(t *testing.T) {
	var buf bytes.Buffer
	resp := &Response{
		StatusCode: 200,
		CSeq:       3,
		Header:     map[string]string{"Content-Type": "application/sdp"},
		Body:       []byte("v=0\r\n"),
	}
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, 200, got.StatusCode)
	require.Equal(t, "OK", got.Reason)
	require.Equal(t, []byte("v=0\r\n"), got.Body)
}

func TestSessionIDStripsTimeout(t *testing.T) {
	require.Equal(t, "12345678", SessionID("12345678;timeout=60"))
	require.Equal(t, "12345678", SessionID("12345678"))
}

func TestParseRTPInfo(t *testing.T) {
	entries := ParseRTPInfo("url=rtsp://host/11/trackID=0;seq=0;rtptime=3051549469 ")
	require.Len(t, entries, 1)
	require.Equal(t, "rtsp://host/11/trackID=0", entries[0].URL)
	require.Equal(t, uint16(0), entries[0].Seq)
	require.Equal(t, uint32(3051549469), entries[0].RTPTime)
}

func TestParseRTPInfoMultipleTracks(t *testing.T) {
	header := "url=rtsp://host/11/trackID=0;seq=100;rtptime=900,url=rtsp://host/11/trackID=1;seq=50;rtptime=4800"
	entries := ParseRTPInfo(header)
	require.Len(t, entries, 2)
	require.Equal(t, "rtsp://host/11/trackID=1", entries[1].URL)
	require.Equal(t, uint16(50), entries[1].Seq)
}

func TestChoosesGetParameter(t *testing.T) {
	require.True(t, ChoosesGetParameter("OPTIONS, DESCRIBE, SETUP, PLAY, GET_PARAMETER, TEARDOWN"))
	require.False(t, ChoosesGetParameter("OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN"))
}
