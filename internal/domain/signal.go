package domain

// EventType names a signaling event on the wire.
type EventType string

const (
	EventJoin             EventType = "join"
	EventOffer            EventType = "offer"
	EventAnswer           EventType = "answer"
	EventICECandidate     EventType = "ice-candidate"
	EventLeave            EventType = "leave"
	EventDisconnectCall   EventType = "disconnect-call"
	EventPeerDisconnected EventType = "peer-disconnected"
)

// Inbound reports whether a client may register a handler for the event.
func (t EventType) Inbound() bool {
	switch t {
	case EventOffer, EventAnswer, EventICECandidate, EventPeerDisconnected:
		return true
	}
	return false
}

// Negotiation reports whether the event carries SDP or ICE.
func (t EventType) Negotiation() bool {
	switch t {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// SignalMessage is one signaling event. Only the payload matching Type is set.
type SignalMessage struct {
	Type      EventType
	RoomID    string
	Email     string
	SDP       *SDPPayload
	Candidate *ICECandidatePayload
}

func JoinMessage(roomID, email string) SignalMessage {
	return SignalMessage{Type: EventJoin, RoomID: roomID, Email: email}
}

func OfferMessage(roomID, sdp string) SignalMessage {
	return SignalMessage{Type: EventOffer, RoomID: roomID, SDP: &SDPPayload{Type: "offer", SDP: sdp}}
}

func AnswerMessage(roomID, sdp string) SignalMessage {
	return SignalMessage{Type: EventAnswer, RoomID: roomID, SDP: &SDPPayload{Type: "answer", SDP: sdp}}
}

func CandidateMessage(roomID string, c ICECandidatePayload) SignalMessage {
	return SignalMessage{Type: EventICECandidate, RoomID: roomID, Candidate: &c}
}

func LeaveMessage(roomID string) SignalMessage {
	return SignalMessage{Type: EventLeave, RoomID: roomID}
}

func DisconnectCallMessage(roomID string) SignalMessage {
	return SignalMessage{Type: EventDisconnectCall, RoomID: roomID}
}
