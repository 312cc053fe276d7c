package domain

import "errors"

var (
	// ErrNetwork means the room API was unreachable or answered badly.
	ErrNetwork = errors.New("network error")
	// ErrRoomFull means the room already has a callee.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomNotFound means the room id is unknown to the room service.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMediaAcquisition means the microphone was denied or unavailable.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrSignaling means the signaling channel failed or closed unexpectedly.
	ErrSignaling = errors.New("signaling error")
	// ErrNegotiation means an SDP or ICE message was malformed or out of sequence.
	ErrNegotiation = errors.New("negotiation error")
	// ErrNotConnected is returned by sends on a channel that is not connected.
	ErrNotConnected = errors.New("signaling channel not connected")
)
