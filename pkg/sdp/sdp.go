// Package sdp converts between spec.md's media.Info and the SDP bytes
// exchanged in DESCRIBE/ANNOUNCE, grounded on the corpus' SDP handling:
// pion/sdp/v3 for parsing/marshaling, an "a=control" media attribute
// naming each track's SETUP path, exactly as the reference RTSP servers
// in the pack build their session descriptions.
package sdp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethan/rtsp-session/pkg/media"
	pionsdp "github.com/pion/sdp/v3"
)

const (
	videoControl = "trackID=0"
	audioControl = "trackID=1"
)

// Encode builds an SDP session description for info, in the shape the
// corpus' RTSP servers hand back from DESCRIBE: one "v" media block and
// one "a" media block, each carrying an rtpmap, an fmtp describing the
// codec's framing parameters, and a control attribute naming its SETUP
// path.
func Encode(info media.Info) ([]byte, error) {
	sd := &pionsdp.SessionDescription{
		Version: 0,
		Origin: pionsdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "Stream",
		TimeDescriptions: []pionsdp.TimeDescription{
			{Timing: pionsdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	if info.Video != nil {
		sd.MediaDescriptions = append(sd.MediaDescriptions, videoMediaDescription(info.Video))
	}
	if info.Audio != nil {
		sd.MediaDescriptions = append(sd.MediaDescriptions, audioMediaDescription(info.Audio))
	}

	return sd.Marshal()
}

func videoMediaDescription(v *media.VideoParams) *pionsdp.MediaDescription {
	pt := strconv.Itoa(int(v.PayloadType))
	fmtp := fmt.Sprintf("%s packetization-mode=1", pt)
	if len(v.SPS) > 0 {
		fmtp += "; sprop-parameter-sets=" + base64.StdEncoding.EncodeToString(v.SPS)
	}
	if len(v.PPS) > 0 {
		fmtp += "," + base64.StdEncoding.EncodeToString(v.PPS)
	}

	return &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   "video",
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
		Attributes: []pionsdp.Attribute{
			{Key: "rtpmap", Value: fmt.Sprintf("%s H264/%d", pt, v.ClockRate)},
			{Key: "fmtp", Value: fmtp},
			{Key: "control", Value: videoControl},
		},
	}
}

func audioMediaDescription(a *media.AudioParams) *pionsdp.MediaDescription {
	pt := strconv.Itoa(int(a.PayloadType))
	fmtp := fmt.Sprintf(
		"%s streamtype=5; profile-level-id=1; mode=AAC-hbr; sizelength=%d; indexlength=%d; indexdeltalength=%d",
		pt, a.SizeLength, a.IndexLength, a.IndexDeltaLength,
	)

	return &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   "audio",
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
		Attributes: []pionsdp.Attribute{
			{Key: "rtpmap", Value: fmt.Sprintf("%s MPEG4-GENERIC/%d/%d", pt, a.ClockRate, a.Channels)},
			{Key: "fmtp", Value: fmtp},
			{Key: "control", Value: audioControl},
		},
	}
}

// Decode parses raw SDP bytes into media.Info, recovering each track's
// payload type, clock rate, and codec-specific framing from its
// rtpmap/fmtp attributes.
func Decode(raw []byte) (media.Info, error) {
	var sd pionsdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return media.Info{}, fmt.Errorf("unmarshal SDP: %w", err)
	}

	var info media.Info
	for _, m := range sd.MediaDescriptions {
		switch m.MediaName.Media {
		case "video":
			v, err := parseVideo(m)
			if err != nil {
				return media.Info{}, err
			}
			info.Video = v
		case "audio":
			a, err := parseAudio(m)
			if err != nil {
				return media.Info{}, err
			}
			info.Audio = a
		}
	}
	return info, nil
}

// Control returns the SETUP path a MediaDescription's control attribute
// names, or "" if absent.
func Control(m *pionsdp.MediaDescription) string {
	return findAttribute(m.Attributes, "control")
}

func findAttribute(attrs []pionsdp.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseVideo(m *pionsdp.MediaDescription) (*media.VideoParams, error) {
	if len(m.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("sdp: video media has no payload format")
	}
	pt, err := strconv.Atoi(m.MediaName.Formats[0])
	if err != nil {
		return nil, fmt.Errorf("sdp: invalid video payload type: %w", err)
	}

	clockRate := uint32(90000)
	if rtpmap := findAttribute(m.Attributes, "rtpmap"); rtpmap != "" {
		if parts := strings.SplitN(rtpmap, "/", 2); len(parts) == 2 {
			if rate, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				clockRate = uint32(rate)
			}
		}
	}

	v := &media.VideoParams{PayloadType: uint8(pt), ClockRate: clockRate, LengthSize: 4}
	if fmtp := findAttribute(m.Attributes, "fmtp"); fmtp != "" {
		for key, val := range fmtpParams(fmtp) {
			if key == "sprop-parameter-sets" {
				sets := strings.SplitN(val, ",", 2)
				if len(sets) > 0 {
					if sps, err := base64.StdEncoding.DecodeString(sets[0]); err == nil {
						v.SPS = sps
					}
				}
				if len(sets) > 1 {
					if pps, err := base64.StdEncoding.DecodeString(sets[1]); err == nil {
						v.PPS = pps
					}
				}
			}
		}
	}
	return v, nil
}

func parseAudio(m *pionsdp.MediaDescription) (*media.AudioParams, error) {
	if len(m.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("sdp: audio media has no payload format")
	}
	pt, err := strconv.Atoi(m.MediaName.Formats[0])
	if err != nil {
		return nil, fmt.Errorf("sdp: invalid audio payload type: %w", err)
	}

	a := &media.AudioParams{
		PayloadType:      uint8(pt),
		ClockRate:        48000,
		Channels:         2,
		SizeLength:       13,
		IndexLength:      3,
		IndexDeltaLength: 3,
	}

	if rtpmap := findAttribute(m.Attributes, "rtpmap"); rtpmap != "" {
		if parts := strings.SplitN(rtpmap, "/", 3); len(parts) >= 2 {
			if rate, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				a.ClockRate = uint32(rate)
			}
			if len(parts) == 3 {
				if ch, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
					a.Channels = ch
				}
			}
		}
	}

	if fmtp := findAttribute(m.Attributes, "fmtp"); fmtp != "" {
		params := fmtpParams(fmtp)
		if v, ok := params["sizelength"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				a.SizeLength = n
			}
		}
		if v, ok := params["indexlength"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				a.IndexLength = n
			}
		}
		if v, ok := params["indexdeltalength"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				a.IndexDeltaLength = n
			}
		}
	}
	return a, nil
}

// fmtpParams parses the "<pt> key=val; key=val" form fmtp attributes use.
func fmtpParams(fmtp string) map[string]string {
	out := make(map[string]string)
	parts := strings.SplitN(fmtp, " ", 2)
	if len(parts) != 2 {
		return out
	}
	for _, kv := range strings.Split(parts[1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(pair[0]))] = strings.TrimSpace(pair[1])
	}
	return out
}
