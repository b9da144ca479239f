package rtsp

import (
	"net"
	"testing"

	"github.com/ethan/rtsp-session/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestControlParserReadsRequest(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_ = WriteRequest(client, &Request{Method: "OPTIONS", URL: "rtsp://x/stream", CSeq: 1, Header: map[string]string{}})
	}()

	p := newControlParser(server)
	req, frame, err := p.next()
	require.NoError(t, err)
	require.Nil(t, frame)
	require.NotNil(t, req)
	require.Equal(t, "OPTIONS", req.Method)
}

func TestControlParserReadsInterleavedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_ = transport.WriteInterleaved(client, 0, []byte{1, 2, 3, 4})
	}()

	p := newControlParser(server)
	req, frame, err := p.next()
	require.NoError(t, err)
	require.Nil(t, req)
	require.NotNil(t, frame)
	require.Equal(t, byte(0), frame.Channel)
	require.Equal(t, []byte{1, 2, 3, 4}, frame.Payload)
}

func TestControlParserSurfacesDesyncOnTruncatedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		// Write a valid interleaved marker and length header, then close
		// before the declared payload arrives.
		_, _ = client.Write([]byte{'$', 0, 0, 10})
		_ = client.Close()
	}()

	p := newControlParser(server)
	_, _, err := p.next()
	require.ErrorIs(t, err, ErrDesync)
}
