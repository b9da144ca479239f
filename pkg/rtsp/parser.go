package rtsp

import (
	"bufio"
	"fmt"
	"net"

	"github.com/ethan/rtsp-session/pkg/transport"
)

// controlParser demultiplexes a single TCP socket shared between RTSP
// request/response text and `$`-interleaved RTP/RTCP blocks, the external
// Control Parser collaborator spec.md §4.2 names. It never blocks the
// Session actor beyond the read it performs, matching §5's "the control
// parser... doesn't block" requirement: each call to next returns exactly
// one message or one frame.
type controlParser struct {
	r *bufio.Reader
}

func newControlParser(conn net.Conn) *controlParser {
	return &controlParser{r: bufio.NewReaderSize(conn, 65536)}
}

// next reads one unit from the socket: either an RTSP request (req
// non-nil) or one interleaved frame (frame non-nil), never both. Returns
// an error wrapping ErrDesync if a `$`-framed block cannot be read in
// full; a malformed RTSP request line yields ReadRequest's own error.
func (p *controlParser) next() (req *Request, frame *transport.InterleavedFrame, err error) {
	isInterleaved, err := transport.PeekKind(p.r)
	if err != nil {
		return nil, nil, err
	}
	if isInterleaved {
		f, err := transport.ReadInterleaved(p.r)
		if err != nil {
			return nil, nil, fmt.Errorf("rtsp: %w: %v", ErrDesync, err)
		}
		return nil, &f, nil
	}

	r, err := ReadRequest(p.r)
	if err != nil {
		return nil, nil, err
	}
	return r, nil, nil
}
