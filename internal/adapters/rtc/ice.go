package rtc

import (
	"fmt"

	"github.com/dkeye/Collab/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers turns the configured servers into what clients get in welcome.
// TURN entries need a username and a credential.
func ICEServers(cfgs []config.ICEServerConfig) ([]webrtc.ICEServer, error) {
	if len(cfgs) == 0 {
		return DefaultICEServers(), nil
	}

	out := make([]webrtc.ICEServer, 0, len(cfgs))
	for i, c := range cfgs {
		if len(c.URLs) == 0 {
			return nil, fmt.Errorf("ice_servers[%d]: no urls", i)
		}
		turn := false
		for _, raw := range c.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				return nil, fmt.Errorf("ice_servers[%d]: %q: %w", i, raw, err)
			}
			if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
				turn = true
			}
		}

		s := webrtc.ICEServer{URLs: c.URLs}
		if turn {
			if c.Username == "" || c.Credential == "" {
				return nil, fmt.Errorf("ice_servers[%d]: turn server needs username and credential", i)
			}
			s.Username = c.Username
			s.Credential = c.Credential
			s.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, s)
	}

	log.Info().Str("module", "rtc").Int("servers", len(out)).Msg("ice servers configured")
	return out, nil
}
