// Package session drives one peer-to-peer audio call from media
// acquisition through negotiation to teardown.
//
// A Session is an actor: Run owns every state change and handle access.
// Signaling handlers, peer callbacks and background steps only post events
// to its mailbox. Posting to a terminated session fails, and the producer
// keeps ownership of whatever it was about to hand over.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callroom/native/internal/domain"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultConnectTimeout = 10 * time.Second

// Deps are the collaborators a session builds its resources from. A fresh
// peer connection and signaling channel are made for every session.
type Deps struct {
	Media          domain.MediaSource
	Peers          domain.PeerFactory
	NewSignaler    func() domain.Signaler
	SignalURL      string
	ConnectTimeout time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Media == nil:
		return errors.New("session: media source is required")
	case d.Peers == nil:
		return errors.New("session: peer factory is required")
	case d.NewSignaler == nil:
		return errors.New("session: signaler constructor is required")
	case d.SignalURL == "":
		return errors.New("session: signal url is required")
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithStateListener registers fn for every state transition. It runs on the
// session goroutine and must not block.
func WithStateListener(fn func(from, to State)) Option {
	return func(s *Session) { s.onState = fn }
}

// event kinds posted to the mailbox.
type (
	mediaReady struct {
		media domain.LocalMedia
		err   error
	}
	signalConnected  struct{}
	signalFailed     struct{ err error }
	remoteSignal     struct{ msg domain.SignalMessage }
	localCandidate   struct{ candidate domain.ICECandidatePayload }
	remoteMediaAdded struct{ media domain.RemoteMedia }
	hangupRequested  struct{}
)

// Session is one call. Construct it with New (or Create/Join) and drive it
// with Run.
type Session struct {
	role   domain.Role
	roomID string
	email  string
	deps   Deps
	logger zerolog.Logger

	onState func(from, to State)

	// mailbox
	mbMu    sync.Mutex
	mailbox []any
	stopped bool
	wake    chan struct{}

	started atomic.Bool
	done    chan struct{}

	mu    sync.RWMutex // guards state and err for readers
	state State
	err   error

	cleanup *coordinator

	// owned by the Run goroutine
	runCtx        context.Context
	connected     bool
	remoteSet     bool
	pending       []domain.ICECandidatePayload
	outbox        []domain.SignalMessage
	cancelAcquire context.CancelFunc
	cancelConnect context.CancelFunc
}

// New creates a session for a resolved room assignment. The role is taken
// from the assignment and never inferred.
func New(a *domain.Assignment, deps Deps, opts ...Option) (*Session, error) {
	if a == nil {
		return nil, errors.New("session: assignment is required")
	}
	if !a.Role.Valid() {
		return nil, fmt.Errorf("session: invalid role %q", a.Role)
	}
	if a.RoomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = defaultConnectTimeout
	}

	logger := log.With().
		Str("component", "session").
		Str("room_id", a.RoomID).
		Str("role", string(a.Role)).
		Logger()

	s := &Session{
		role:    a.Role,
		roomID:  a.RoomID,
		email:   a.Email,
		deps:    deps,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   Idle,
		cleanup: newCoordinator(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Role() domain.Role { return s.role }
func (s *Session) RoomID() string    { return s.roomID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that ended the session, if any. A session ended by
// hang-up, remote disconnect or context cancellation has no error.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once the session is Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Hangup asks the session to end the call. It is a no-op once the session
// has terminated.
func (s *Session) Hangup() {
	s.post(hangupRequested{})
}

// Run drives the session until it terminates and returns the error that
// ended it. Cancelling ctx tears the call down. Calling Run again returns
// the same result once the session is done.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		<-s.done
		return s.Err()
	}

	s.runCtx = ctx
	s.begin()

	for s.State() != Terminated {
		select {
		case <-ctx.Done():
			s.end(TriggerContextDone, nil)
		case <-s.wake:
			for _, ev := range s.take() {
				if s.State() == Terminated {
					s.discard(ev)
					continue
				}
				s.handle(ev)
				s.flush()
			}
		}
	}

	s.stop()
	close(s.done)
	s.logger.Info().Err(s.Err()).Msg("session terminated")
	return s.Err()
}

// post appends ev to the mailbox. It returns false if the session has
// stopped accepting events.
func (s *Session) post(ev any) bool {
	s.mbMu.Lock()
	if s.stopped {
		s.mbMu.Unlock()
		return false
	}
	s.mailbox = append(s.mailbox, ev)
	s.mbMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) take() []any {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	evs := s.mailbox
	s.mailbox = nil
	return evs
}

// stop closes the mailbox and releases anything still queued in it.
func (s *Session) stop() {
	s.mbMu.Lock()
	s.stopped = true
	left := s.mailbox
	s.mailbox = nil
	s.mbMu.Unlock()

	for _, ev := range left {
		s.discard(ev)
	}
}

// discard drops an event that arrived too late, releasing what it carries.
func (s *Session) discard(ev any) {
	switch e := ev.(type) {
	case mediaReady:
		if e.media != nil {
			_ = e.media.Close()
			s.logger.Debug().Msg("released late local media")
		}
	case remoteMediaAdded:
		_ = e.media.Close()
	case localCandidate:
		s.logger.Debug().Msg("discarding local candidate after teardown")
	}
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.Error().Stringer("from", from).Stringer("to", to).Msg("illegal transition")
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info().Stringer("from", from).Stringer("to", to).Msg("state")
	if s.onState != nil {
		s.onState(from, to)
	}
	return true
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// begin enters AwaitingMedia and starts acquiring the microphone.
func (s *Session) begin() {
	s.transition(AwaitingMedia)

	ctx, cancel := context.WithCancel(s.runCtx)
	s.cancelAcquire = cancel
	go func() {
		m, err := s.deps.Media.Acquire(ctx)
		if !s.post(mediaReady{media: m, err: err}) && m != nil {
			_ = m.Close()
			s.logger.Debug().Msg("released local media acquired after teardown")
		}
	}()
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case mediaReady:
		s.onMediaReady(e)
	case signalConnected:
		s.onSignalConnected()
	case signalFailed:
		s.onSignalFailed(e.err)
	case remoteSignal:
		s.onRemoteSignal(e.msg)
	case localCandidate:
		s.onLocalCandidate(e.candidate)
	case remoteMediaAdded:
		if s.State() >= Ending || !s.cleanup.addRemote(e.media) {
			_ = e.media.Close()
			return
		}
		s.logger.Info().Str("track", e.media.ID()).Msg("remote audio attached")
	case hangupRequested:
		s.end(TriggerHangup, nil)
	}
}

func (s *Session) onMediaReady(e mediaReady) {
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	if s.State() != AwaitingMedia {
		s.discard(e)
		return
	}
	if e.err != nil {
		if !errors.Is(e.err, domain.ErrMediaAcquisition) {
			e.err = fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, e.err)
		}
		s.fail(e.err)
		return
	}
	if !s.cleanup.attachLocal(e.media) {
		_ = e.media.Close()
		return
	}

	peer, err := s.deps.Peers.NewPeer()
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
		return
	}
	s.cleanup.attachPeer(peer)
	peer.SetOnICECandidate(func(c domain.ICECandidatePayload) {
		s.post(localCandidate{candidate: c})
	})
	peer.SetOnRemoteMedia(func(m domain.RemoteMedia) {
		if !s.post(remoteMediaAdded{media: m}) {
			_ = m.Close()
		}
	})
	if err := peer.AddLocalMedia(e.media); err != nil {
		s.fail(fmt.Errorf("%w: attach local media: %v", domain.ErrMediaAcquisition, err))
		return
	}

	sig := s.deps.NewSignaler()
	s.cleanup.attachSignal(sig)
	for _, t := range []domain.EventType{
		domain.EventOffer,
		domain.EventAnswer,
		domain.EventICECandidate,
		domain.EventPeerDisconnected,
	} {
		sig.On(t, func(msg domain.SignalMessage) {
			s.post(remoteSignal{msg: msg})
		})
	}
	sig.OnConnected(func() { s.post(signalConnected{}) })
	sig.OnError(func(err error) { s.post(signalFailed{err: err}) })

	s.transition(AwaitingSignaling)

	ctx, cancel := context.WithTimeout(s.runCtx, s.deps.ConnectTimeout)
	s.cancelConnect = cancel
	if err := sig.Connect(ctx, s.deps.SignalURL); err != nil {
		s.fail(err)
	}
}

func (s *Session) onSignalConnected() {
	if s.State() != AwaitingSignaling {
		return
	}
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.connected = true

	// join goes out before anything queued while connecting
	s.outbox = append([]domain.SignalMessage{domain.JoinMessage(s.roomID, s.email)}, s.outbox...)
	s.transition(Negotiating)

	if s.role != domain.RoleCaller {
		s.logger.Info().Msg("waiting for offer")
		return
	}
	peer := s.cleanup.peer()
	if peer == nil {
		return
	}
	sdp, err := peer.CreateOffer()
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
		return
	}
	s.outbox = append(s.outbox, domain.OfferMessage(s.roomID, sdp))
}

func (s *Session) onSignalFailed(err error) {
	if !errors.Is(err, domain.ErrSignaling) {
		err = fmt.Errorf("%w: %v", domain.ErrSignaling, err)
	}
	switch s.State() {
	case Negotiating, Active:
		s.end(TriggerSignalingLost, err)
	case AwaitingSignaling:
		s.fail(err)
	}
}

func (s *Session) onRemoteSignal(msg domain.SignalMessage) {
	switch msg.Type {
	case domain.EventOffer:
		s.onRemoteOffer(msg)
	case domain.EventAnswer:
		s.onRemoteAnswer(msg)
	case domain.EventICECandidate:
		s.onRemoteCandidate(msg)
	case domain.EventPeerDisconnected:
		s.end(TriggerPeerDisconnected, nil)
	}
}

func (s *Session) onRemoteOffer(msg domain.SignalMessage) {
	state := s.State()
	if state == Active {
		s.logger.Warn().Msg("rejecting offer on active call: renegotiation is not supported")
		return
	}
	if s.role != domain.RoleCallee || state != Negotiating {
		s.fail(fmt.Errorf("%w: unexpected offer in state %s", domain.ErrNegotiation, state))
		return
	}
	if msg.SDP == nil || msg.SDP.SDP == "" {
		s.fail(fmt.Errorf("%w: offer without sdp", domain.ErrNegotiation))
		return
	}
	peer := s.cleanup.peer()
	if peer == nil {
		return
	}

	sdp := *msg.SDP
	sdp.Type = "offer"
	if err := peer.SetRemoteDescription(sdp); err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
		return
	}
	if !s.applyPending(peer) {
		return
	}

	answer, err := peer.CreateAnswer()
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
		return
	}
	s.outbox = append(s.outbox, domain.AnswerMessage(s.roomID, answer))
	s.transition(Active)
}

func (s *Session) onRemoteAnswer(msg domain.SignalMessage) {
	state := s.State()
	if state == Active {
		s.logger.Warn().Msg("ignoring duplicate answer")
		return
	}
	if s.role != domain.RoleCaller || state != Negotiating {
		s.fail(fmt.Errorf("%w: unexpected answer in state %s", domain.ErrNegotiation, state))
		return
	}
	if msg.SDP == nil || msg.SDP.SDP == "" {
		s.fail(fmt.Errorf("%w: answer without sdp", domain.ErrNegotiation))
		return
	}
	peer := s.cleanup.peer()
	if peer == nil {
		return
	}

	sdp := *msg.SDP
	sdp.Type = "answer"
	if err := peer.SetRemoteDescription(sdp); err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
		return
	}
	if !s.applyPending(peer) {
		return
	}
	s.transition(Active)
}

// applyPending marks the remote description as set and applies buffered
// candidates in arrival order. It returns false if the session failed.
func (s *Session) applyPending(peer domain.Peer) bool {
	s.remoteSet = true
	pending := s.pending
	s.pending = nil

	for _, c := range pending {
		if err := peer.AddRemoteICECandidate(c); err != nil {
			s.fail(fmt.Errorf("%w: buffered candidate: %v", domain.ErrNegotiation, err))
			return false
		}
	}
	if len(pending) > 0 {
		s.logger.Info().Int("count", len(pending)).Msg("applied buffered ICE candidates")
	}
	return true
}

func (s *Session) onRemoteCandidate(msg domain.SignalMessage) {
	state := s.State()
	if state < AwaitingSignaling || state > Active {
		return
	}
	if msg.Candidate == nil {
		s.fail(fmt.Errorf("%w: ice-candidate without candidate", domain.ErrNegotiation))
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, *msg.Candidate)
		return
	}
	peer := s.cleanup.peer()
	if peer == nil {
		return
	}
	if err := peer.AddRemoteICECandidate(*msg.Candidate); err != nil {
		s.fail(fmt.Errorf("%w: %v", domain.ErrNegotiation, err))
	}
}

func (s *Session) onLocalCandidate(c domain.ICECandidatePayload) {
	state := s.State()
	if state < AwaitingSignaling || state > Active {
		s.logger.Debug().Stringer("state", state).Msg("discarding local candidate")
		return
	}
	s.outbox = append(s.outbox, domain.CandidateMessage(s.roomID, c))
}

// flush sends queued messages once the channel is connected. Nothing is
// sent after teardown has begun.
func (s *Session) flush() {
	if !s.connected || len(s.outbox) == 0 || s.State() >= Ending {
		return
	}
	sig := s.cleanup.signal()
	if sig == nil {
		return
	}
	for _, m := range s.outbox {
		if err := sig.Send(m); err != nil {
			s.logger.Warn().Err(err).Str("event", string(m.Type)).Msg("send")
		}
	}
	s.outbox = nil
}

func (s *Session) fail(err error) {
	s.logger.Error().Err(err).Msg("call failed")
	s.end(TriggerFailure, err)
}

// end is the single teardown path. Every trigger goes through here; only the
// first call has any effect.
func (s *Session) end(trigger Trigger, err error) {
	if s.State() >= Ending {
		return
	}
	if err != nil {
		s.setErr(err)
	}
	s.logger.Info().Str("trigger", string(trigger)).Msg("ending call")

	s.outbox = nil
	s.farewell(trigger)
	s.transition(Ending)

	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.pending = nil

	s.cleanup.Cleanup()
	s.connected = false
	s.transition(Terminated)
}

// farewell tells the relay the call is over while the channel is still open.
func (s *Session) farewell(trigger Trigger) {
	if !s.connected {
		return
	}
	sig := s.cleanup.signal()
	if sig == nil {
		return
	}

	var msgs []domain.SignalMessage
	switch trigger {
	case TriggerHangup, TriggerContextDone:
		msgs = []domain.SignalMessage{domain.DisconnectCallMessage(s.roomID), domain.LeaveMessage(s.roomID)}
	case TriggerPeerDisconnected, TriggerFailure:
		msgs = []domain.SignalMessage{domain.LeaveMessage(s.roomID)}
	}
	for _, m := range msgs {
		if err := sig.Send(m); err != nil {
			s.logger.Debug().Err(err).Str("event", string(m.Type)).Msg("farewell")
		}
	}
}
