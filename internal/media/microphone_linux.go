//go:build linux && cgo

package media

import (
	"context"
	"errors"
	"fmt"

	"callroom/native/internal/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Microphone captures the default input device and encodes it as Opus.
type Microphone struct {
	selector *mediadevices.CodecSelector
}

func NewMicrophone() (*Microphone, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	return &Microphone{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

type captureResult struct {
	stream mediadevices.MediaStream
	err    error
}

// Acquire opens the microphone. If ctx ends first, a device that opens
// later is closed instead of leaking.
func (m *Microphone) Acquire(ctx context.Context) (domain.LocalMedia, error) {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			log.Debug().Str("component", "media").Str("label", d.Label).Msg("audio input")
		}
	}

	ch := make(chan captureResult, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
			Codec: m.selector,
		})
		ch <- captureResult{stream: stream, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				closeTracks(r.stream.GetTracks())
			}
		}()
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, r.err)
		}
		audio := r.stream.GetAudioTracks()
		if len(audio) == 0 {
			closeTracks(r.stream.GetTracks())
			return nil, fmt.Errorf("%w: no audio track", domain.ErrMediaAcquisition)
		}

		tracks := make([]pion.TrackLocal, 0, len(audio))
		for _, t := range audio {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Str("component", "media").Err(err).Msg("microphone track ended")
				}
			})
			tracks = append(tracks, t)
		}
		log.Info().Str("component", "media").Int("tracks", len(tracks)).Msg("microphone captured")
		return NewStream(tracks, func() error {
			return closeTracks(audio)
		}), nil
	}
}

func closeTracks(tracks []mediadevices.Track) error {
	var errs []error
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
