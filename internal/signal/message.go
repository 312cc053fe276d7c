package signal

import (
	"encoding/json"
	"fmt"

	"callroom/native/internal/domain"
)

// envelope is the WebSocket frame shared by clients and the relay.
type envelope struct {
	Event domain.EventType `json:"event"`
	Data  payload          `json:"data"`
}

type payload struct {
	RoomID    string                      `json:"roomId,omitempty"`
	Email     string                      `json:"email,omitempty"`
	SDP       *domain.SDPPayload          `json:"sdp,omitempty"`
	Candidate *domain.ICECandidatePayload `json:"candidate,omitempty"`
}

// Encode serializes a signal message into its wire frame.
func Encode(msg domain.SignalMessage) ([]byte, error) {
	if msg.Type == "" {
		return nil, fmt.Errorf("encode: missing event type")
	}
	return json.Marshal(envelope{
		Event: msg.Type,
		Data: payload{
			RoomID:    msg.RoomID,
			Email:     msg.Email,
			SDP:       msg.SDP,
			Candidate: msg.Candidate,
		},
	})
}

// Decode parses a wire frame and checks that the payload required by its
// event type is present.
func Decode(data []byte) (domain.SignalMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.SignalMessage{}, fmt.Errorf("decode: %w", err)
	}

	msg := domain.SignalMessage{
		Type:      env.Event,
		RoomID:    env.Data.RoomID,
		Email:     env.Data.Email,
		SDP:       env.Data.SDP,
		Candidate: env.Data.Candidate,
	}

	switch env.Event {
	case domain.EventOffer, domain.EventAnswer:
		if msg.SDP == nil || msg.SDP.SDP == "" {
			return msg, fmt.Errorf("decode %s: missing sdp", env.Event)
		}
		if msg.SDP.Type == "" {
			msg.SDP.Type = string(env.Event)
		}
	case domain.EventICECandidate:
		if msg.Candidate == nil {
			return msg, fmt.Errorf("decode %s: missing candidate", env.Event)
		}
	case domain.EventJoin:
		if msg.RoomID == "" || msg.Email == "" {
			return msg, fmt.Errorf("decode %s: missing roomId or email", env.Event)
		}
	case domain.EventLeave, domain.EventDisconnectCall, domain.EventPeerDisconnected:
	case "":
		return msg, fmt.Errorf("decode: missing event type")
	default:
		return msg, fmt.Errorf("decode: unknown event %q", env.Event)
	}
	return msg, nil
}
