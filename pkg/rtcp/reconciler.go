package rtcp

import (
	"errors"
	"fmt"
)

// ErrTooManyAudioShifts is returned once a Session's audio/video drift has
// required more than six clamping adjustments, per spec.md §4.6; the
// client ends its session when it sees this.
var ErrTooManyAudioShifts = errors.New("too_many_audio_shift")

// audioDriftThreshold is the maximum DTS deviation, in media-time units,
// an audio frame may have from the latest video DTS before it is clamped.
const audioDriftThreshold = 10000

// maxAudioShiftAdjustments is the number of clamp adjustments tolerated
// before the Session gives up and reports ErrTooManyAudioShifts.
const maxAudioShiftAdjustments = 6

// Reconciler owns the DTS/PTS anchoring spec.md's §4.6/§4.7 describe: the
// first frame seen (sent or received) anchors first_dts, and every frame
// after that is shifted by it. It is not safe for concurrent use; a
// Session's single event loop is expected to own one per session.
type Reconciler struct {
	haveFirstDTS bool
	firstDTS     int64

	haveVideoDTS bool
	lastVideoDTS int64

	audioDTSShift   int64
	audioShiftCount int
}

// NewReconciler returns an empty reconciler with no anchor set yet.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// SetFirstDTS anchors the session explicitly, e.g. on receipt of an
// inbound FlFD packet naming the peer's first_dts. It has no effect once
// an anchor is already set: spec.md's "first_dts is set once per Session
// and never changes."
func (r *Reconciler) SetFirstDTS(dts int64) {
	if r.haveFirstDTS {
		return
	}
	r.haveFirstDTS = true
	r.firstDTS = dts
}

// HaveFirstDTS reports whether the anchor has been established.
func (r *Reconciler) HaveFirstDTS() bool { return r.haveFirstDTS }

// FirstDTS returns the anchor value; callers must check HaveFirstDTS first.
func (r *Reconciler) FirstDTS() int64 { return r.firstDTS }

// Outbound anchors first_dts from the first frame's DTS if not already
// set, then returns (dts - first_dts, pts - first_dts) for wire encoding,
// per spec.md's outbound frame gating.
func (r *Reconciler) Outbound(dts, pts int64) (shiftedDTS, shiftedPTS int64) {
	r.SetFirstDTS(dts)
	return dts - r.firstDTS, pts - r.firstDTS
}

// InboundVideo applies the first_dts anchor to an inbound video frame and
// records it as the latest video DTS that audio drift is measured
// against.
func (r *Reconciler) InboundVideo(dts, pts int64) (shiftedDTS, shiftedPTS int64) {
	shiftedDTS = dts
	shiftedPTS = pts
	if r.haveFirstDTS {
		shiftedDTS += r.firstDTS
		shiftedPTS += r.firstDTS
	}
	r.haveVideoDTS = true
	r.lastVideoDTS = shiftedDTS
	return shiftedDTS, shiftedPTS
}

// InboundAudio applies the first_dts anchor and then the audio drift
// clamp spec.md §4.6 describes: if the shifted DTS deviates from the
// latest video DTS by more than audioDriftThreshold, the frame is clamped
// to the video DTS and the residual becomes audioDTSShift, absorbed into
// subsequent audio frames. adjusted reports whether this call clamped; the
// client logs the first three clamps. The seventh clamp returns
// ErrTooManyAudioShifts instead, on which the client ends its session.
func (r *Reconciler) InboundAudio(dts, pts int64) (shiftedDTS, shiftedPTS int64, adjusted bool, err error) {
	if r.haveFirstDTS {
		dts += r.firstDTS
		pts += r.firstDTS
	}
	dts += r.audioDTSShift
	pts += r.audioDTSShift

	if r.haveVideoDTS {
		deviation := dts - r.lastVideoDTS
		if deviation > audioDriftThreshold || deviation < -audioDriftThreshold {
			r.audioShiftCount++
			if r.audioShiftCount > maxAudioShiftAdjustments {
				return 0, 0, false, fmt.Errorf("rtcp: %w", ErrTooManyAudioShifts)
			}
			r.audioDTSShift += r.lastVideoDTS - dts
			dts = r.lastVideoDTS
			pts = dts
			adjusted = true
		}
	}
	return dts, pts, adjusted, nil
}

// AudioShiftCount reports how many clamp adjustments have been applied so
// far, for logging ("first three adjustments are logged").
func (r *Reconciler) AudioShiftCount() int { return r.audioShiftCount }
