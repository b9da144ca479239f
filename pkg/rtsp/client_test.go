package rtsp

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethan/rtsp-session/pkg/logger"
	"github.com/ethan/rtsp-session/pkg/media"
	"github.com/ethan/rtsp-session/pkg/transport"
	"github.com/stretchr/testify/require"

	pionrtp "github.com/pion/rtp"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	cfg := logger.NewConfig()
	log, err := logger.New(cfg)
	require.NoError(t, err)
	return log
}

// fakeServer accepts one connection and replies to each request with the
// handler's response, letting tests drive the client through a real TCP
// socket instead of mocking net.Conn.
func fakeServer(t *testing.T, handle func(req *Request) *Response) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			req, err := ReadRequest(r)
			if err != nil {
				return
			}
			resp := handle(req)
			resp.CSeq = req.CSeq
			if err := WriteResponse(conn, resp); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestClientOptionsOK(t *testing.T) {
	addr := fakeServer(t, func(req *Request) *Response {
		require.Equal(t, "OPTIONS", req.Method)
		return &Response{StatusCode: 200, Header: map[string]string{
			"Public": "OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN",
		}}
	})

	c := NewClient("rtsp://"+addr+"/stream", testLogger(t))
	require.NoError(t, c.Connect(context.Background()))
	defer c.conn.Close()

	require.NoError(t, c.Options())
	require.Equal(t, "options", c.keepaliveMethod)
}

func TestClientDigestUpgradeOnDescribe(t *testing.T) {
	attempt := 0
	var addr string
	addr = fakeServer(t, func(req *Request) *Response {
		if req.Method != "DESCRIBE" {
			return &Response{StatusCode: 200}
		}
		attempt++
		if attempt == 1 {
			require.Contains(t, req.Header["Authorization"], "Basic ")
			return &Response{
				StatusCode: 401,
				Header: map[string]string{
					"WWW-Authenticate": `Digest realm="cam", nonce="abc123"`,
				},
			}
		}
		require.Contains(t, req.Header["Authorization"], "Digest username=")
		return &Response{
			StatusCode: 200,
			Header:     map[string]string{"Content-Base": "rtsp://" + addr + "/stream/"},
			Body:       []byte("v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"),
		}
	})

	c := NewClient("rtsp://user:pass@"+addr+"/stream", testLogger(t))
	require.NoError(t, c.Connect(context.Background()))
	defer c.conn.Close()

	_, err := c.Describe()
	require.NoError(t, err)
	require.Equal(t, 2, attempt)
	require.IsType(t, digestAuth{}, c.auth)
}

func TestClientLearnsSessionAndKeepaliveMethod(t *testing.T) {
	addr := fakeServer(t, func(req *Request) *Response {
		return &Response{
			StatusCode: 200,
			Header: map[string]string{
				"Session": "998877;timeout=60",
				"Public":  "OPTIONS, DESCRIBE, SETUP, PLAY, GET_PARAMETER, TEARDOWN",
			},
		}
	})

	c := NewClient("rtsp://"+addr+"/stream", testLogger(t))
	require.NoError(t, c.Connect(context.Background()))
	defer c.conn.Close()

	require.NoError(t, c.Options())
	require.Equal(t, "998877", c.session)
	require.Equal(t, "get_parameter", c.keepaliveMethod)
}

func TestClientRoundTripFailsWhenServerClosesWithoutReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}()

	c := NewClient("rtsp://"+ln.Addr().String()+"/stream", testLogger(t))
	require.NoError(t, c.Connect(context.Background()))
	defer c.conn.Close()

	// roundTrip replaces this deadline with its own callTimeout one, so the
	// error seen here comes from the server closing after 200ms.
	c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err = c.roundTrip(c.newRequest("OPTIONS", c.url))
	require.Error(t, err)
}

type panicDecoder struct{}

func (panicDecoder) Sync(seq uint16, rtptime uint32) {}

func (panicDecoder) Decode(payload []byte, seq uint16, timestamp uint32, marker bool, ctsTicks int32) ([]media.Frame, error) {
	panic("decode should not be reached for a malformed RTP packet")
}

func TestClientDropsRTPPacketWithWrongVersion(t *testing.T) {
	c := NewClient("rtsp://example/stream", testLogger(t))
	c.channels[0] = &transport.Channel{Index: 0, Content: transport.ContentVideo, Decoder: panicDecoder{}}
	c.OnFrame = func(media.Frame) { t.Fatal("OnFrame should not be invoked") }

	pkt := pionrtp.Packet{
		Header:  pionrtp.Header{Version: 1, PayloadType: 96, SequenceNumber: 1, Timestamp: 1, SSRC: 1},
		Payload: []byte{0x01},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	c.handleInboundMedia(0, false, raw)
}

func TestClientDropsRTPPacketWithNonZeroCSRC(t *testing.T) {
	c := NewClient("rtsp://example/stream", testLogger(t))
	c.channels[0] = &transport.Channel{Index: 0, Content: transport.ContentVideo, Decoder: panicDecoder{}}
	c.OnFrame = func(media.Frame) { t.Fatal("OnFrame should not be invoked") }

	pkt := pionrtp.Packet{
		Header:  pionrtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 2, Timestamp: 2, SSRC: 2, CSRC: []uint32{42}},
		Payload: []byte{0x02},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	c.handleInboundMedia(0, false, raw)
}
