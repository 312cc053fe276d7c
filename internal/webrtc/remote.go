package webrtc

import (
	"fmt"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

const remoteStopTimeout = 2 * time.Second

// remoteTrack drains one received audio track, optionally into an Ogg file.
type remoteTrack struct {
	track    *pion.TrackRemote
	receiver *pion.RTPReceiver

	mu  sync.Mutex // guards ogg
	ogg *oggwriter.OggWriter

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newRemoteTrack(track *pion.TrackRemote, receiver *pion.RTPReceiver, recordPath string) (*remoteTrack, error) {
	rt := &remoteTrack{
		track:    track,
		receiver: receiver,
		done:     make(chan struct{}),
	}
	if recordPath != "" {
		codec := track.Codec()
		w, err := oggwriter.New(recordPath, codec.ClockRate, codec.Channels)
		if err != nil {
			return nil, fmt.Errorf("create ogg writer %s: %w", recordPath, err)
		}
		rt.ogg = w
	}
	go rt.readLoop()
	return rt, nil
}

func (r *remoteTrack) ID() string {
	return r.track.ID()
}

func (r *remoteTrack) readLoop() {
	defer close(r.done)

	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			log.Debug().Str("component", "webrtc").Err(err).Str("track", r.track.ID()).Msg("remote track ended")
			return
		}
		r.mu.Lock()
		if r.ogg != nil {
			if err := r.ogg.WriteRTP(pkt); err != nil {
				log.Warn().Str("component", "webrtc").Err(err).Msg("ogg write")
			}
		}
		r.mu.Unlock()
	}
}

// Close stops the receiver, waits for the drain loop and flushes the recording.
func (r *remoteTrack) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.receiver.Stop()
		select {
		case <-r.done:
		case <-time.After(remoteStopTimeout):
			log.Warn().Str("component", "webrtc").Str("track", r.track.ID()).Msg("remote track did not stop in time")
		}
		r.mu.Lock()
		if r.ogg != nil {
			if err := r.ogg.Close(); err != nil && r.closeErr == nil {
				r.closeErr = err
			}
			r.ogg = nil
		}
		r.mu.Unlock()
	})
	return r.closeErr
}
