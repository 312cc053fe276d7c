package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"callroom/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TrackSource is implemented by local media that can feed a peer connection.
type TrackSource interface {
	Tracks() []pion.TrackLocal
}

var errNoRemoteDescription = errors.New("remote description not set")

// Peer wraps a Pion PeerConnection carrying one audio stream each way.
type Peer struct {
	pc           *pion.PeerConnection
	recordPath   string
	keepLoopback bool
	logger       zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newPeer(pc *pion.PeerConnection, recordPath string, keepLoopback bool) *Peer {
	p := &Peer{
		pc:           pc,
		recordPath:   recordPath,
		keepLoopback: keepLoopback,
		logger:       log.With().Str("component", "webrtc").Logger(),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.logger.Info().Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Info().Str("state", state.String()).Msg("peer connection state")
	})

	return p
}

// AddLocalMedia attaches every track of media as a sendrecv audio sender.
// Media without tracks leaves a recvonly transceiver so the SDP still
// carries an audio m-line.
func (p *Peer) AddLocalMedia(media domain.LocalMedia) error {
	src, ok := media.(TrackSource)
	if !ok {
		return fmt.Errorf("local media %T has no tracks", media)
	}

	tracks := src.Tracks()
	if len(tracks) == 0 {
		_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
		return nil
	}

	for _, track := range tracks {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		// RTCP must be read for the interceptors to process it.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	p.logger.Info().Int("tracks", len(tracks)).Msg("local audio attached")
	return nil
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(fn func(domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.logger.Debug().Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if !p.keepLoopback && isLoopback(init.Candidate) {
			p.logger.Debug().Msg("filtering loopback ICE candidate")
			return
		}

		payload := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		p.logger.Debug().Str("candidate", init.Candidate).Msg("local ICE candidate")
		fn(payload)
	})
}

// SetOnRemoteMedia registers the callback for received audio tracks. Each
// track is drained (and recorded when configured) until it is closed.
func (p *Peer) SetOnRemoteMedia(fn func(domain.RemoteMedia)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Uint8("pt", uint8(codec.PayloadType)).
			Msg("got remote track")

		if track.Kind() != pion.RTPCodecTypeAudio {
			_ = receiver.Stop()
			return
		}

		rt, err := newRemoteTrack(track, receiver, p.recordPath)
		if err != nil {
			p.logger.Error().Err(err).Msg("open remote audio sink")
			_ = receiver.Stop()
			return
		}
		fn(rt)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.logger.Info().Msg("local SDP offer set")
	return offer.SDP, nil
}

// CreateAnswer answers the applied remote offer and sets the answer as the
// local description.
func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.logger.Info().Msg("local SDP answer set")
	return answer.SDP, nil
}

// SetRemoteDescription applies a remote offer or answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	typ := pion.NewSDPType(sdp.Type)
	if typ != pion.SDPTypeOffer && typ != pion.SDPTypeAnswer {
		return fmt.Errorf("unsupported sdp type %q", sdp.Type)
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.logger.Info().Str("type", sdp.Type).Msg("remote SDP set")
	return nil
}

// AddRemoteICECandidate adds a candidate. The remote description must
// already be set; callers buffer earlier arrivals.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	if p.pc.RemoteDescription() == nil {
		return errNoRemoteDescription
	}

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	p.logger.Debug().Msg("added remote ICE candidate")
	return nil
}

// Close shuts down the PeerConnection. Later calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
		p.logger.Info().Msg("peer connection closed")
	})
	return p.closeErr
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
