package session

import (
	"sync"

	"callroom/native/internal/domain"

	"github.com/rs/zerolog"
)

// resources are the handles a session owns. They live only inside a
// coordinator and are swapped for nil in a single step on release.
type resources struct {
	local  domain.LocalMedia
	remote []domain.RemoteMedia
	peer   domain.Peer
	signal domain.Signaler
}

// coordinator releases a session's resources exactly once, however many
// teardown paths reach it and in whatever order.
type coordinator struct {
	logger zerolog.Logger

	mu       sync.Mutex
	res      *resources
	released bool
	runs     int
	done     chan struct{}
}

func newCoordinator(logger zerolog.Logger) *coordinator {
	return &coordinator{logger: logger, res: &resources{}, done: make(chan struct{})}
}

// attachLocal hands local media to the coordinator. It returns false once
// the coordinator has released; the caller then still owns the media.
func (c *coordinator) attachLocal(m domain.LocalMedia) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.res.local = m
	return true
}

func (c *coordinator) attachPeer(p domain.Peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.res.peer = p
	return true
}

func (c *coordinator) attachSignal(s domain.Signaler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.res.signal = s
	return true
}

func (c *coordinator) addRemote(m domain.RemoteMedia) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.res.remote = append(c.res.remote, m)
	return true
}

func (c *coordinator) peer() domain.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	return c.res.peer
}

func (c *coordinator) signal() domain.Signaler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	return c.res.signal
}

// holding reports whether any handle is still attached.
func (c *coordinator) holding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	r := c.res
	return r.local != nil || len(r.remote) > 0 || r.peer != nil || r.signal != nil
}

func (c *coordinator) cleanupRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Cleanup releases local tracks, remote tracks, the peer connection and the
// signaling channel, in that order. Only the first call does anything; it
// returns true for that call. Later calls wait for the first to finish
// releasing and return false.
func (c *coordinator) Cleanup() bool {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		<-c.done
		return false
	}
	c.released = true
	c.runs++
	res := c.res
	c.res = nil
	c.mu.Unlock()

	if res.local != nil {
		if err := res.local.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("release local media")
		}
	}
	for _, m := range res.remote {
		if err := m.Close(); err != nil {
			c.logger.Warn().Err(err).Str("track", m.ID()).Msg("release remote media")
		}
	}
	if res.peer != nil {
		if err := res.peer.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close peer connection")
		}
	}
	if res.signal != nil {
		res.signal.Disconnect()
	}

	close(c.done)
	c.logger.Info().Msg("resources released")
	return true
}
