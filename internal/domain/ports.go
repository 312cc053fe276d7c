package domain

import "context"

// RoomLifecycle resolves a participant's role by creating or joining a room.
type RoomLifecycle interface {
	CreateRoom(ctx context.Context, callerEmail string) (*Assignment, error)
	JoinRoom(ctx context.Context, roomID, calleeEmail string) (*Assignment, error)
}

// Signaler is a duplex connection to the signaling relay.
type Signaler interface {
	Connect(ctx context.Context, endpoint string) error
	OnConnected(fn func())
	OnError(fn func(error))
	On(event EventType, handler func(SignalMessage))
	Send(msg SignalMessage) error
	Disconnect()
}

// LocalMedia is a captured local audio stream.
type LocalMedia interface {
	Close() error
}

// RemoteMedia is a track received from the remote peer.
type RemoteMedia interface {
	ID() string
	Close() error
}

// MediaSource acquires local audio. Acquire may block until the device opens.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	AddLocalMedia(media LocalMedia) error
	SetOnICECandidate(fn func(ICECandidatePayload))
	SetOnRemoteMedia(fn func(RemoteMedia))
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close() error
}

// PeerFactory builds a fresh peer connection for each call.
type PeerFactory interface {
	NewPeer() (Peer, error)
}
