package transport

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
)

// ErrNoPorts is returned when the UDP port-pair search space is exhausted.
var ErrNoPorts = errors.New("no_ports")

// PortPair is a bound RTP/RTCP UDP socket pair sharing the invariant
// RTCP = RTP+1, per spec.md §4.5.
type PortPair struct {
	RTP  *net.UDPConn
	RTCP *net.UDPConn
	Port int // the RTP port; RTCP is Port+1

	rtcpPeer *net.UDPAddr
	rtpPeer  *net.UDPAddr
}

// Close releases both sockets.
func (p *PortPair) Close() error {
	var err error
	if p.RTP != nil {
		err = p.RTP.Close()
	}
	if p.RTCP != nil {
		if e := p.RTCP.Close(); err == nil {
			err = e
		}
	}
	return err
}

// BindPortPair picks a random even start port in [min, max) and attempts to
// open RTP at P and RTCP at P+1; on collision it advances by 2 and retries
// up to 60000, per spec.md §4.5.
func BindPortPair(listenIP string, min, max int) (*PortPair, error) {
	if min <= 0 || max <= min || min%2 != 0 {
		return nil, fmt.Errorf("invalid port range [%d, %d)", min, max)
	}

	span := (max - min) / 2
	start := min + 2*rand.Intn(span)

	for p := start; p < 60000; p += 2 {
		rtpAddr := &net.UDPAddr{IP: net.ParseIP(listenIP), Port: p}
		rtpConn, err := net.ListenUDP("udp", rtpAddr)
		if err != nil {
			continue
		}

		rtcpAddr := &net.UDPAddr{IP: net.ParseIP(listenIP), Port: p + 1}
		rtcpConn, err := net.ListenUDP("udp", rtcpAddr)
		if err != nil {
			rtpConn.Close()
			continue
		}

		return &PortPair{RTP: rtpConn, RTCP: rtcpConn, Port: p}, nil
	}

	return nil, ErrNoPorts
}

// ConnectRTCP records the peer's RTCP address once known (client-side
// connect_channel, spec.md §4.5), so WriteRTCP can address outbound RRs
// without the caller needing to resolve the peer each time.
func (p *PortPair) ConnectRTCP(peer *net.UDPAddr) {
	p.rtcpPeer = peer
}

// WriteRTCP writes an RTCP packet to the connected peer set by ConnectRTCP.
func (p *PortPair) WriteRTCP(b []byte) (int, error) {
	if p.rtcpPeer == nil {
		return 0, fmt.Errorf("rtcp peer not connected")
	}
	return p.RTCP.WriteToUDP(b, p.rtcpPeer)
}

// ConnectRTP records the peer's RTP address (learned from SETUP's
// client_port) so WriteRTP can address outbound packets directly.
func (p *PortPair) ConnectRTP(peer *net.UDPAddr) {
	p.rtpPeer = peer
}

// WriteRTP writes an RTP packet to the peer set by ConnectRTP.
func (p *PortPair) WriteRTP(b []byte) (int, error) {
	if p.rtpPeer == nil {
		return 0, fmt.Errorf("rtp peer not connected")
	}
	return p.RTP.WriteToUDP(b, p.rtpPeer)
}

// maxDatagramSize covers the largest RTP/RTCP UDP datagram this package
// expects to receive; IP fragmentation is not handled above it.
const maxDatagramSize = 1500

// ReadRTP blocks for the next datagram on the RTP socket and returns its
// payload, per spec.md §4.2's "UDP demultiplexing" routing-by-socket rule.
func (p *PortPair) ReadRTP() ([]byte, error) {
	buf := make([]byte, maxDatagramSize)
	n, err := p.RTP.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ReadRTCP blocks for the next datagram on the RTCP socket and returns its
// payload.
func (p *PortPair) ReadRTCP() ([]byte, error) {
	buf := make([]byte, maxDatagramSize)
	n, err := p.RTCP.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
