// Package rtc holds the WebRTC negotiation helpers. Media is never
// terminated here; the server only validates what it relays.
package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

var ErrTURNCredentials = errors.New("turn server requires username and credential")

// ServerSpec is one configured relay endpoint.
type ServerSpec struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers converts configured endpoints into the negotiation config handed
// to every new session. An empty list yields the default public STUN server.
func ICEServers(specs []ServerSpec) ([]webrtc.ICEServer, error) {
	if len(specs) == 0 {
		return DefaultICEServers(), nil
	}
	out := make([]webrtc.ICEServer, 0, len(specs))
	for _, spec := range specs {
		if len(spec.URLs) == 0 {
			return nil, errors.New("ice server without urls")
		}
		for _, raw := range spec.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("ice server %q: %w", raw, err)
			}
			if (u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS) &&
				(spec.Username == "" || spec.Credential == "") {
				return nil, fmt.Errorf("ice server %q: %w", raw, ErrTURNCredentials)
			}
		}
		srv := webrtc.ICEServer{URLs: append([]string(nil), spec.URLs...)}
		if spec.Username != "" {
			srv.Username = spec.Username
			srv.Credential = spec.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out, nil
}
