package session

// State is a call session's position in the negotiation lifecycle.
type State int

const (
	Idle State = iota
	AwaitingMedia
	AwaitingSignaling
	Negotiating
	Active
	Ending
	Terminated
)

var stateNames = [...]string{
	Idle:              "idle",
	AwaitingMedia:     "awaiting-media",
	AwaitingSignaling: "awaiting-signaling",
	Negotiating:       "negotiating",
	Active:            "active",
	Ending:            "ending",
	Terminated:        "terminated",
}

func (s State) String() string {
	if s < Idle || s > Terminated {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. Every non-terminal
// state may end; Terminated has no successors.
var transitions = map[State][]State{
	Idle:              {AwaitingMedia, Ending},
	AwaitingMedia:     {AwaitingSignaling, Ending},
	AwaitingSignaling: {Negotiating, Ending},
	Negotiating:       {Active, Ending},
	Active:            {Ending},
	Ending:            {Terminated},
	Terminated:        nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Trigger names what ended a session.
type Trigger string

const (
	TriggerHangup           Trigger = "hangup"
	TriggerPeerDisconnected Trigger = "peer-disconnected"
	TriggerSignalingLost    Trigger = "signaling-lost"
	TriggerContextDone      Trigger = "context-done"
	TriggerFailure          Trigger = "failure"
)
