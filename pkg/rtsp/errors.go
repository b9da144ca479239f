package rtsp

import "errors"

var (
	// ErrSessionClosed names a terminated Session. No Session method in
	// this package returns it.
	ErrSessionClosed = errors.New("rtsp: session closed")

	// ErrNoPorts names UDP port-pair exhaustion at this package's level.
	// transport.BindPortPair itself returns transport.ErrNoPorts, and the
	// SETUP handler answers any bind failure with 500.
	ErrNoPorts = errors.New("rtsp: no ports available")

	// ErrTooManyAudioShifts mirrors rtcp.ErrTooManyAudioShifts. The client
	// ends its read loop on the rtcp value; this package never returns
	// this one.
	ErrTooManyAudioShifts = errors.New("rtsp: too_many_audio_shift")

	// ErrCallTimeout is returned when a client call() does not receive
	// its correlated response within 10s.
	ErrCallTimeout = errors.New("rtsp: call timeout")

	// ErrDesync is wrapped into the error returned when a `$`-framed
	// interleaved block on the control stream cannot be read in full.
	ErrDesync = errors.New("rtsp: desynchronized control stream")
)
