package transport_test

import (
	"net"
	"testing"

	"github.com/ethan/rtsp-session/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestBindPortPairReturnsEvenConsecutivePair(t *testing.T) {
	pair, err := transport.BindPortPair("127.0.0.1", 20000, 21000)
	require.NoError(t, err)
	defer pair.Close()

	require.Equal(t, 0, pair.Port%2)
	require.GreaterOrEqual(t, pair.Port, 20000)
	require.Less(t, pair.Port, 60000)
	require.Equal(t, pair.Port+1, pair.RTCP.LocalAddr().(*net.UDPAddr).Port)
}

func TestBindPortPairRejectsInvalidRange(t *testing.T) {
	_, err := transport.BindPortPair("127.0.0.1", 20001, 21000)
	require.Error(t, err)

	_, err = transport.BindPortPair("127.0.0.1", 21000, 20000)
	require.Error(t, err)
}

func TestPortPairWriteRequiresConnect(t *testing.T) {
	pair, err := transport.BindPortPair("127.0.0.1", 22000, 23000)
	require.NoError(t, err)
	defer pair.Close()

	_, err = pair.WriteRTP([]byte{1, 2, 3})
	require.Error(t, err)
	_, err = pair.WriteRTCP([]byte{1, 2, 3})
	require.Error(t, err)

	peerRTP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer peerRTP.Close()

	pair.ConnectRTP(peerRTP.LocalAddr().(*net.UDPAddr))
	_, err = pair.WriteRTP([]byte{1, 2, 3, 4})
	require.NoError(t, err)
}

func TestPortPairReadRTPAndRTCP(t *testing.T) {
	pair, err := transport.BindPortPair("127.0.0.1", 24000, 25000)
	require.NoError(t, err)
	defer pair.Close()

	rtpPeer, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: pair.Port})
	require.NoError(t, err)
	defer rtpPeer.Close()
	_, err = rtpPeer.Write([]byte{0x80, 0x60, 0x00, 0x01})
	require.NoError(t, err)

	payload, err := pair.ReadRTP()
	require.NoError(t, err)
	require.Equal(t, []byte{0x80, 0x60, 0x00, 0x01}, payload)

	rtcpPeer, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: pair.Port + 1})
	require.NoError(t, err)
	defer rtcpPeer.Close()
	_, err = rtcpPeer.Write([]byte{0x81, 0xc9, 0x00, 0x07})
	require.NoError(t, err)

	payload, err = pair.ReadRTCP()
	require.NoError(t, err)
	require.Equal(t, []byte{0x81, 0xc9, 0x00, 0x07}, payload)
}
