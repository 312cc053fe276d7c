package media

import (
	"context"
	"fmt"
	"time"

	"callroom/native/internal/domain"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const silenceFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Silence produces an Opus track carrying silence. It stands in for a
// microphone on headless hosts.
type Silence struct{}

func NewSilence() *Silence {
	return &Silence{}
}

func (s *Silence) Acquire(ctx context.Context) (domain.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"callroom-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create silence track: %v", domain.ErrMediaAcquisition, err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(silenceFrame)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: silenceFrame}); err != nil {
					log.Debug().Str("component", "media").Err(err).Msg("silence write")
				}
			}
		}
	}()

	log.Info().Str("component", "media").Str("track", track.ID()).Msg("silence source started")
	return NewStream([]pion.TrackLocal{track}, func() error {
		close(done)
		return nil
	}), nil
}
