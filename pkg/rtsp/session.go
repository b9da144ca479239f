package rtsp

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethan/rtsp-session/pkg/logger"
	"github.com/ethan/rtsp-session/pkg/media"
	"github.com/ethan/rtsp-session/pkg/rtcp"
	"github.com/ethan/rtsp-session/pkg/rtp"
	"github.com/ethan/rtsp-session/pkg/sdp"
	"github.com/ethan/rtsp-session/pkg/transport"
)

// Collaborators groups the optional external handlers a Session dispatches
// requests to, per spec.md §6. A nil Describer, Player or Announcer makes
// DESCRIBE, PLAY or ANNOUNCE reply 404; a nil Lister or Getter makes
// LIST_SEGMENTS or GET_SEGMENT reply 405.
type Collaborators struct {
	Describer media.Describer
	Player    media.Player
	Announcer media.Announcer
	Lister    media.SegmentLister
	Getter    media.SegmentGetter
}

// Session is the server-side Session Controller of spec.md §4.1/§4.3: one
// cooperative actor per accepted TCP connection, with its own goroutine
// reading requests and its own RR timer, grounded on the
// teacher's CameraRelay.Start/readLoop/statsLoop/monitorLoop actor shape
// (pkg/relay/relay.go) generalized from one fixed pipeline to a dispatch
// table over RTSP methods.
type Session struct {
	conn net.Conn
	log  *logger.Logger

	collab Collaborators

	sessionID string
	paused    bool
	flowKind  media.SourceKind

	channels transport.Table
	recon    *rtcp.Reconciler

	unsubscribe func()
	playDone    <-chan struct{}

	keepaliveMethod string

	pacer     *transport.Pacer
	udpFrames chan udpInboundFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex
}

// udpPortMin and udpPortMax bound the candidate range transport.BindPortPair
// searches, per spec.md §4.5, shared by the server's SETUP handler and the
// client's SetupUDP.
const (
	udpPortMin = 10000
	udpPortMax = 20000
)

// pacerPacketsPerSec and pacerBurst bound the outbound interleaved-write
// pacer's token bucket, sized comfortably above H.264/AAC's typical
// packet rate so it smooths bursts without throttling steady-state video.
const (
	pacerPacketsPerSec = 400.0
	pacerBurst         = 32
)

// udpInboundFrame is one datagram handed from a per-channel UDP reader
// goroutine to the Session's single event-loop goroutine, the concrete
// form of SPEC_FULL.md §5's "communicate only via buffered channels" rule
// applied to "the UDP listeners".
type udpInboundFrame struct {
	idx     int
	isRTCP  bool
	payload []byte
}

// controlEvent is one unit handed from controlReader to Serve's event
// loop: either a parsed request, an interleaved frame, or a terminal
// error, never more than one at a time.
type controlEvent struct {
	req   *Request
	frame *transport.InterleavedFrame
	err   error
}

var trackIDPattern = regexp.MustCompile(`trackID=(\d+)`)

// NewSession wraps an accepted connection, ready to run once Serve is
// called.
func NewSession(conn net.Conn, collab Collaborators, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:            conn,
		log:             log,
		collab:          collab,
		recon:           rtcp.NewReconciler(),
		keepaliveMethod: "options",
		pacer:           transport.NewPacer(pacerPacketsPerSec, pacerBurst),
		udpFrames:       make(chan udpInboundFrame, 64),
		ctx:             ctx,
		cancel:          cancel,
	}
	s.pacer.SetWriter(func(channel byte, payload []byte) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return transport.WriteInterleaved(s.conn, channel, payload)
	})
	return s
}

// Serve runs the Session's actor loop until the connection closes, a
// fatal protocol error occurs, or ctx is cancelled. It blocks the caller
// the way the teacher's CameraRelay.Start's readLoop blocks inside its
// own goroutine — callers typically invoke Serve itself in a goroutine.
func (s *Session) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.cancel()
		_ = s.conn.Close()
	}()

	s.wg.Add(1)
	go s.rrLoop()
	defer func() {
		s.cancel()
		for _, ch := range s.channels {
			if ch != nil && ch.Ports != nil {
				_ = ch.Ports.Close()
			}
		}
		s.wg.Wait()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	}()

	events := make(chan controlEvent, 8)
	go s.controlReader(events)

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case ev := <-events:
			if ev.err != nil {
				return ev.err
			}
			if ev.frame != nil {
				s.handleInterleaved(*ev.frame)
				continue
			}
			if err := s.handleRequest(ev.req); err != nil {
				return err
			}
		case f := <-s.udpFrames:
			s.handleInboundMedia(f.idx, f.isRTCP, f.payload)
		}
	}
}

// controlReader runs the blocking control-socket read on its own
// goroutine and hands each unit to Serve's event loop over events, per
// SPEC_FULL.md §5. The 10s read deadline only wakes the read periodically
// so a cancelled ctx is noticed promptly; a timeout is not itself
// treated as session-ending, mirroring Client.ReadLoop's identical
// periodic-wakeup pattern (client.go's controlReadLoop) — otherwise a
// UDP-transport session with no control traffic for 10s would be torn
// down even while it is still actively streaming.
func (s *Session) controlReader(events chan<- controlEvent) {
	parser := newControlParser(s.conn)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
			s.sendControlEvent(events, controlEvent{err: err})
			return
		}
		req, frame, err := parser.next()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.sendControlEvent(events, controlEvent{err: err})
			return
		}
		if !s.sendControlEvent(events, controlEvent{req: req, frame: frame}) {
			return
		}
	}
}

func (s *Session) sendControlEvent(events chan<- controlEvent, ev controlEvent) bool {
	select {
	case events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) handleRequest(req *Request) error {
	resp := s.dispatch(req)
	resp.CSeq = req.CSeq
	if resp.Header == nil {
		resp.Header = make(map[string]string)
	}
	resp.Header["Date"] = time.Now().UTC().Format(time.RFC1123)
	resp.Header["Server"] = "rtsp-session"
	if s.sessionID != "" {
		resp.Header["Session"] = s.sessionID
	}
	if len(resp.Body) > 0 {
		if _, ok := resp.Header["Content-Type"]; !ok {
			resp.Header["Content-Type"] = "application/sdp"
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return WriteResponse(s.conn, resp)
}

// dispatch implements spec.md §4.3's server-side method table.
func (s *Session) dispatch(req *Request) *Response {
	switch req.Method {
	case "OPTIONS", "GET_PARAMETER":
		return &Response{StatusCode: 200, Header: map[string]string{
			"Public": "SETUP, TEARDOWN, ANNOUNCE, RECORD, PLAY, OPTIONS, DESCRIBE, GET_PARAMETER, LIST_SEGMENTS, GET_SEGMENT",
		}}
	case "DESCRIBE":
		return s.handleDescribe(req)
	case "SETUP":
		return s.handleSetup(req)
	case "PLAY":
		return s.handlePlay(req)
	case "PAUSE":
		return s.handlePause(req)
	case "TEARDOWN":
		s.cancel()
		return &Response{StatusCode: 200}
	case "ANNOUNCE":
		return s.handleAnnounce(req)
	case "RECORD":
		return &Response{StatusCode: 200}
	case "LIST_SEGMENTS":
		return s.handleListSegments(req)
	case "GET_SEGMENT":
		return s.handleGetSegment(req)
	default:
		return &Response{StatusCode: 405}
	}
}

func (s *Session) handleDescribe(req *Request) *Response {
	if s.collab.Describer == nil {
		return &Response{StatusCode: 404}
	}
	info, err := s.collab.Describer.Describe(s.ctx, req.URL, req.Header, req.Body)
	if err != nil {
		if errors.Is(err, media.ErrAuthentication) {
			return &Response{StatusCode: 401, Header: map[string]string{
				"WWW-Authenticate": `Basic realm="rtsp-session"`,
			}}
		}
		return &Response{StatusCode: 404}
	}

	if info.Video != nil {
		s.channels[0] = &transport.Channel{Index: 0, Content: transport.ContentVideo, Timescale: info.Video.ClockRate, LengthSize: info.Video.LengthSize}
	}
	if info.Audio != nil {
		s.channels[1] = &transport.Channel{Index: 1, Content: transport.ContentAudio, Timescale: info.Audio.ClockRate}
	}

	s.sessionID = strconv.FormatInt(time.Now().UnixMicro(), 10)

	body, err := sdp.Encode(info)
	if err != nil {
		return &Response{StatusCode: 500}
	}
	return &Response{StatusCode: 200, Header: map[string]string{
		"Content-Base": req.URL + "/",
	}, Body: body}
}

func (s *Session) handleSetup(req *Request) *Response {
	idx := trackIndexFromURL(req.URL)
	if idx < 0 || idx > 1 {
		return &Response{StatusCode: 404}
	}

	transportHeader := req.Header["Transport"]
	record := strings.Contains(transportHeader, "mode=record")

	switch {
	case strings.HasPrefix(transportHeader, "RTP/AVP/TCP"):
		if record {
			return &Response{StatusCode: 461}
		}
		rtpCh, rtcpCh, ok := parseInterleaved(transportHeader)
		if !ok {
			return &Response{StatusCode: 461}
		}
		s.ensureChannel(idx)
		ch := s.channels[idx]
		ch.Interleaved = true
		ch.RTPChannelID = rtpCh
		ch.RTCPChannelID = rtcpCh
		return &Response{StatusCode: 200, Header: map[string]string{"Transport": transportHeader}}

	case strings.HasPrefix(transportHeader, "RTP/AVP"):
		clientRTP, clientRTCP, ok := parseClientPorts(transportHeader)
		if !ok {
			return &Response{StatusCode: 461}
		}
		pair, err := transport.BindPortPair("0.0.0.0", udpPortMin, udpPortMax)
		if err != nil {
			return &Response{StatusCode: 500}
		}
		s.ensureChannel(idx)
		ch := s.channels[idx]
		ch.Ports = pair

		if host, _, splitErr := net.SplitHostPort(s.conn.RemoteAddr().String()); splitErr == nil {
			pair.ConnectRTP(&net.UDPAddr{IP: net.ParseIP(host), Port: clientRTP})
			pair.ConnectRTCP(&net.UDPAddr{IP: net.ParseIP(host), Port: clientRTCP})
		}

		s.wg.Add(2)
		go s.readUDPChannel(ch, idx, false)
		go s.readUDPChannel(ch, idx, true)

		reply := strings.Replace(transportHeader, "client_port="+strconv.Itoa(clientRTP)+"-"+strconv.Itoa(clientRTCP),
			"client_port="+strconv.Itoa(clientRTP)+"-"+strconv.Itoa(clientRTCP)+";server_port="+strconv.Itoa(pair.Port)+"-"+strconv.Itoa(pair.Port+1), 1)
		if record {
			reply += ";mode=receive"
		}
		return &Response{StatusCode: 200, Header: map[string]string{"Transport": reply}}

	default:
		return &Response{StatusCode: 461}
	}
}

func (s *Session) ensureChannel(idx int) {
	if s.channels[idx] == nil {
		content := transport.ContentVideo
		if idx == 1 {
			content = transport.ContentAudio
		}
		s.channels[idx] = &transport.Channel{Index: idx, Content: content}
	}
}

func (s *Session) handlePlay(req *Request) *Response {
	if s.paused && s.flowKind == media.StreamSourceKind {
		s.paused = false
		return &Response{StatusCode: 200}
	}

	if s.collab.Player == nil {
		return &Response{StatusCode: 404}
	}
	result, err := s.collab.Player.Play(s.ctx, req.URL, req.Header)
	if err != nil {
		return &Response{StatusCode: 404}
	}

	s.flowKind = result.Kind
	s.playDone = result.Source.Done()
	unsubscribe, err := result.Source.Subscribe(s)
	if err != nil {
		return &Response{StatusCode: 500}
	}
	s.unsubscribe = unsubscribe

	var entries []RTPInfoEntry
	for i, ch := range s.channels {
		if ch == nil {
			continue
		}
		entries = append(entries, RTPInfoEntry{URL: req.URL + "/trackID=" + strconv.Itoa(i), Seq: 0, RTPTime: 0})
	}

	s.wg.Add(1)
	go s.monitorPlaySource()

	return &Response{StatusCode: 200, Header: map[string]string{
		"RTP-Info": FormatRTPInfo(entries),
		"Range":    "npt=0-",
	}}
}

func (s *Session) monitorPlaySource() {
	defer s.wg.Done()
	select {
	case <-s.ctx.Done():
	case <-s.playDone:
		s.cancel()
	}
}

func (s *Session) handlePause(*Request) *Response {
	if s.unsubscribe == nil || s.flowKind != media.StreamSourceKind {
		return &Response{StatusCode: 405}
	}
	s.paused = true
	return &Response{StatusCode: 200}
}

func (s *Session) handleAnnounce(req *Request) *Response {
	if req.Header["Content-Type"] != "application/sdp" {
		return &Response{StatusCode: 405}
	}
	if s.collab.Announcer == nil {
		return &Response{StatusCode: 404}
	}
	info, err := sdp.Decode(req.Body)
	if err != nil {
		return &Response{StatusCode: 400}
	}
	if _, err := s.collab.Announcer.Announce(s.ctx, req.URL, req.Header, info); err != nil {
		if errors.Is(err, media.ErrAuthentication) {
			return &Response{StatusCode: 401}
		}
		return &Response{StatusCode: 404}
	}
	if info.Video != nil {
		s.channels[0] = &transport.Channel{Index: 0, Content: transport.ContentVideo, Timescale: info.Video.ClockRate, LengthSize: info.Video.LengthSize}
	}
	if info.Audio != nil {
		s.channels[1] = &transport.Channel{Index: 1, Content: transport.ContentAudio, Timescale: info.Audio.ClockRate}
	}
	return &Response{StatusCode: 200}
}

func (s *Session) handleListSegments(req *Request) *Response {
	if s.collab.Lister == nil {
		return &Response{StatusCode: 405}
	}
	body, err := s.collab.Lister.ListSegments(req.URL)
	if err != nil {
		return &Response{StatusCode: 404}
	}
	return &Response{StatusCode: 200, Body: body, Header: map[string]string{"Content-Type": "text/plain"}}
}

func (s *Session) handleGetSegment(req *Request) *Response {
	if s.collab.Getter == nil {
		return &Response{StatusCode: 405}
	}
	path, segment := splitSegmentURL(req.URL)
	body, err := s.collab.Getter.GetSegment(path, segment)
	if err != nil {
		return &Response{StatusCode: 404}
	}
	return &Response{StatusCode: 200, Body: body}
}

// OnFrame implements media.FrameSink: it packetizes one outbound access
// unit and writes it to the control socket (TCP interleaved) or the
// channel's UDP RTP socket, applying the first-frame DTS anchor and FlFD
// keyframe emission of spec.md §4.6.
func (s *Session) OnFrame(f media.Frame) error {
	if s.paused {
		return nil
	}
	ch := s.channels.ByContent(contentFor(f.Kind))
	if ch == nil {
		return nil
	}

	dts, pts := s.recon.Outbound(f.DTS, f.PTS)

	var packets [][]byte
	var err error
	switch f.Kind {
	case media.Video:
		if ch.Packetizer == nil {
			ch.Packetizer = rtp.NewH264Packetizer(uint32(ch.Index), float64(ch.Timescale)/1000)
		}
		lengthSize := ch.LengthSize
		if lengthSize == 0 {
			lengthSize = 4
		}
		packets, err = ch.Packetizer.(*rtp.H264Packetizer).Packetize(lengthSize, f.Payload, dts, pts)
	case media.Audio:
		if ch.Packetizer == nil {
			ch.Packetizer = rtp.NewAACPacketizer(uint32(ch.Index), float64(ch.Timescale)/1000)
		}
		var pkt []byte
		pkt, err = ch.Packetizer.(*rtp.AACPacketizer).AddFrame(f.Payload, dts, time.Now())
		if pkt != nil {
			packets = [][]byte{pkt}
		}
	}
	if err != nil {
		return err
	}

	for _, pkt := range packets {
		if err := s.writeChannelPacket(ch, false, pkt); err != nil {
			return err
		}
	}

	if f.Kind == media.Video && f.Keyframe {
		flfd := rtcp.BuildFlFDPacket(uint32(ch.Index), s.recon.FirstDTS())
		if err := s.writeChannelPacket(ch, true, flfd); err != nil {
			return err
		}
	}
	return nil
}

// Done implements media.FrameSink.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) writeChannelPacket(ch *transport.Channel, isRTCP bool, payload []byte) error {
	if ch.Interleaved {
		channelID := ch.RTPChannelID
		if isRTCP {
			channelID = ch.RTCPChannelID
		}
		return s.pacer.Write(s.ctx, channelID, payload)
	}
	if ch.Ports == nil {
		return nil
	}
	var err error
	if isRTCP {
		_, err = ch.Ports.WriteRTCP(payload)
	} else {
		_, err = ch.Ports.WriteRTP(payload)
	}
	return err
}

// readUDPChannel reads datagrams off one of ch's bound UDP sockets and
// hands each to the event loop via s.udpFrames; it never touches ch's
// fields itself, per SPEC_FULL.md §5. It returns once the socket is
// closed (session teardown) or ctx is cancelled.
func (s *Session) readUDPChannel(ch *transport.Channel, idx int, isRTCP bool) {
	defer s.wg.Done()
	for {
		var payload []byte
		var err error
		if isRTCP {
			payload, err = ch.Ports.ReadRTCP()
		} else {
			payload, err = ch.Ports.ReadRTP()
		}
		if err != nil {
			return
		}
		select {
		case s.udpFrames <- udpInboundFrame{idx: idx, isRTCP: isRTCP, payload: payload}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleInterleaved(frame transport.InterleavedFrame) {
	idx := transport.ChannelIndex(frame.Channel)
	s.handleInboundMedia(idx, !transport.IsRTPChannel(frame.Channel), frame.Payload)
}

// handleInboundMedia processes one inbound RTP or RTCP unit regardless of
// whether it arrived over interleaved TCP or a UDP channel socket.
func (s *Session) handleInboundMedia(idx int, isRTCP bool, payload []byte) {
	if idx < 0 || idx > 1 || s.channels[idx] == nil {
		return
	}
	if !isRTCP {
		return // server does not decode inbound RTP except in RECORD mode, unimplemented here
	}
	if dts, err := rtcp.ParseFlFDPacket(payload); err == nil {
		s.recon.SetFirstDTS(dts)
		return
	}
	s.ingestSenderReport(idx, payload)
}

func (s *Session) ingestSenderReport(idx int, payload []byte) {
	sr, ok, err := rtcp.ParseSenderReport(payload)
	if err != nil || !ok {
		return
	}
	ch := s.channels[idx]
	ch.SSRC = sr.SSRC
	ch.LastTimecode = sr.RTPTime
	ch.LastNTP = rtcp.TimeToNTP(sr.WallClock)
	ch.LastWallClockMS = rtcp.WallClockMillis(ch.LastNTP)
	ch.LastSRAt = time.Now()
}

// rrLoop emits periodic RTCP receiver reports, per spec.md §4.7: every 3s
// once a channel is active, 2s otherwise.
func (s *Session) rrLoop() {
	defer s.wg.Done()
	interval := 2 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			active := s.emitReceiverReports()
			want := 2 * time.Second
			if active {
				want = 3 * time.Second
			}
			if want != interval {
				interval = want
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Session) emitReceiverReports() (anyActive bool) {
	for _, ch := range s.channels {
		if ch == nil || ch.SSRC == 0 || ch.LastSeq == 0 {
			continue
		}
		anyActive = true
		var dlsr uint32
		if !ch.LastSRAt.IsZero() {
			dlsr = rtcp.DLSRTicks(time.Since(ch.LastSRAt))
		}
		rr, err := rtcp.BuildReceiverReport(ch.SSRC, ch.SSRC, 0, ch.LastSeq, rtcp.SenderReportMiddle32(ch.LastNTP), dlsr)
		if err != nil {
			continue
		}
		_ = s.writeChannelPacket(ch, true, rr)
	}
	return anyActive
}

func contentFor(k media.Kind) transport.Content {
	if k == media.Video {
		return transport.ContentVideo
	}
	return transport.ContentAudio
}

func trackIndexFromURL(url string) int {
	m := trackIDPattern.FindStringSubmatch(url)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

func parseInterleaved(transportHeader string) (rtpCh, rtcpCh byte, ok bool) {
	idx := strings.Index(transportHeader, "interleaved=")
	if idx < 0 {
		return 0, 0, false
	}
	rest := transportHeader[idx+len("interleaved="):]
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		rest = rest[:semi]
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return byte(a), byte(b), true
}

func parseClientPorts(transportHeader string) (rtpPort, rtcpPort int, ok bool) {
	return parsePortRange(transportHeader, "client_port=")
}

// parseServerPorts reads the server_port=P-P+1 pair a UDP SETUP response
// echoes back, the client-side counterpart to parseClientPorts.
func parseServerPorts(transportHeader string) (rtpPort, rtcpPort int, ok bool) {
	return parsePortRange(transportHeader, "server_port=")
}

func parsePortRange(transportHeader, key string) (a, b int, ok bool) {
	idx := strings.Index(transportHeader, key)
	if idx < 0 {
		return 0, 0, false
	}
	rest := transportHeader[idx+len(key):]
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		rest = rest[:semi]
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(parts[0])
	y, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}

func splitSegmentURL(url string) (path, segment string) {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 {
		return url, ""
	}
	return url[:idx], url[idx+1:]
}
