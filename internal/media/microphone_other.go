//go:build !linux || !cgo

package media

import (
	"context"
	"fmt"

	"callroom/native/internal/domain"
)

// Microphone is unavailable without the Linux capture driver. Use
// CALL_MEDIA=silence on these builds.
type Microphone struct{}

func NewMicrophone() (*Microphone, error) {
	return &Microphone{}, nil
}

func (m *Microphone) Acquire(_ context.Context) (domain.LocalMedia, error) {
	return nil, fmt.Errorf("%w: no microphone driver in this build", domain.ErrMediaAcquisition)
}
