// Package media acquires local audio for a call.
package media

import (
	"fmt"
	"sync"

	"callroom/native/internal/config"
	"callroom/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
)

// Stream is a set of local audio tracks released together.
type Stream struct {
	tracks []pion.TrackLocal
	stop   func() error

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps tracks; stop releases the underlying device or generator.
func NewStream(tracks []pion.TrackLocal, stop func() error) *Stream {
	return &Stream{tracks: tracks, stop: stop}
}

// Tracks returns the tracks to attach to a peer connection.
func (s *Stream) Tracks() []pion.TrackLocal {
	return s.tracks
}

// Close releases the stream. Later calls return the first result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.closeErr = s.stop()
		}
	})
	return s.closeErr
}

// New returns the media source named by kind.
func New(kind string) (domain.MediaSource, error) {
	switch kind {
	case config.MediaMicrophone:
		return NewMicrophone()
	case config.MediaSilence:
		return NewSilence(), nil
	default:
		return nil, fmt.Errorf("unknown media source %q", kind)
	}
}
