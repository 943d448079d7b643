// Package rtc holds the ICE configuration handed to browsers before they open
// peer sessions. Media never touches the server.
package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomhub/internal/config"
)

var ErrInvalidICEServer = errors.New("invalid ice server")

// ICEServer is the browser RTCIceServer shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// BuildWebRTCConfig parses every configured URL. TURN entries need credentials.
// An empty list yields DefaultWebRTCConfig.
func BuildWebRTCConfig(servers []config.ICEServer) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := webrtc.Configuration{ICEServers: make([]webrtc.ICEServer, 0, len(servers))}
	for i, s := range servers {
		if len(s.URLs) == 0 {
			return webrtc.Configuration{}, fmt.Errorf("%w: entry %d has no urls", ErrInvalidICEServer, i)
		}
		for _, raw := range s.URLs {
			uri, err := stun.ParseURI(raw)
			if err != nil {
				return webrtc.Configuration{}, fmt.Errorf("%w: %q: %v", ErrInvalidICEServer, raw, err)
			}
			turn := uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS
			if turn && (s.Username == "" || s.Credential == "") {
				return webrtc.Configuration{}, fmt.Errorf("%w: %q needs username and credential", ErrInvalidICEServer, raw)
			}
		}
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out.ICEServers = append(out.ICEServers, srv)
	}
	log.Info().Str("module", "rtc").Int("ice_servers", len(out.ICEServers)).Msg("ice configuration ready")
	return out, nil
}

// ForClients converts cfg into the JSON the browser passes to RTCPeerConnection.
func ForClients(cfg webrtc.Configuration) []ICEServer {
	out := make([]ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		cred, _ := s.Credential.(string)
		out = append(out, ICEServer{URLs: s.URLs, Username: s.Username, Credential: cred})
	}
	return out
}
