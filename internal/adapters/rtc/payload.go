package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var (
	ErrBadSDP       = errors.New("malformed session description")
	ErrSDPType      = errors.New("unexpected session description type")
	ErrBadCandidate = errors.New("malformed ice candidate")
)

// ParseSessionDescription accepts either a bare SDP string or an
// RTCSessionDescriptionInit object. The SDP body must parse.
func ParseSessionDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if len(raw) == 0 {
		return webrtc.SessionDescription{}, ErrBadSDP
	}

	desc := webrtc.SessionDescription{Type: want}
	var body string
	if err := json.Unmarshal(raw, &body); err == nil {
		desc.SDP = body
	} else {
		var obj struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrBadSDP, err)
		}
		if obj.Type != "" && webrtc.NewSDPType(obj.Type) != want {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: got %q, want %q", ErrSDPType, obj.Type, want.String())
		}
		desc.SDP = obj.SDP
	}

	if strings.TrimSpace(desc.SDP) == "" {
		return webrtc.SessionDescription{}, ErrBadSDP
	}
	if _, err := desc.Unmarshal(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrBadSDP, err)
	}
	return desc, nil
}

// ParseCandidate accepts a candidate line or an RTCIceCandidateInit object.
// An empty candidate marks end-of-candidates and is valid.
func ParseCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	if len(raw) == 0 {
		return webrtc.ICECandidateInit{}, ErrBadCandidate
	}

	var init webrtc.ICECandidateInit
	var line string
	if err := json.Unmarshal(raw, &line); err == nil {
		init.Candidate = line
	} else if err := json.Unmarshal(raw, &init); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %v", ErrBadCandidate, err)
	}

	c := strings.TrimPrefix(init.Candidate, "a=")
	if c != "" && !strings.HasPrefix(c, "candidate:") {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %q", ErrBadCandidate, init.Candidate)
	}
	return init, nil
}
