package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callroom/native/internal/domain"
)

// releaseLog records the order in which resources are released.
type releaseLog struct {
	mu    sync.Mutex
	order []string
}

func (r *releaseLog) add(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *releaseLog) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// mockMedia is local media that counts releases.
type mockMedia struct {
	mu     sync.Mutex
	closed int
	rec    *releaseLog

	// when set, Close signals closing and waits for release
	closing chan struct{}
	release chan struct{}
}

func (m *mockMedia) Close() error {
	if m.closing != nil {
		close(m.closing)
		<-m.release
	}
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	m.rec.add("local")
	return nil
}

func (m *mockMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockRemote is a received track that counts releases.
type mockRemote struct {
	id     string
	mu     sync.Mutex
	closed int
	rec    *releaseLog
}

func (m *mockRemote) ID() string { return m.id }

func (m *mockRemote) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	m.rec.add("remote")
	return nil
}

func (m *mockRemote) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockSource hands out media. If block is set, Acquire waits for it to be
// closed and ignores ctx, like a device that opens late.
type mockSource struct {
	media *mockMedia
	err   error
	block chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *mockSource) Acquire(ctx context.Context) (domain.LocalMedia, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.media, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPeer records every call in order.
type mockPeer struct {
	offerSDP        string
	answerSDP       string
	setRemoteErr    error
	addCandidateErr error
	rec             *releaseLog

	mu        sync.Mutex
	calls     []string
	remoteSet bool
	onICE     func(domain.ICECandidatePayload)
	onRemote  func(domain.RemoteMedia)
	closed    int
}

func (m *mockPeer) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockPeer) AddLocalMedia(media domain.LocalMedia) error {
	m.record("add-local")
	return nil
}

func (m *mockPeer) SetOnICECandidate(fn func(domain.ICECandidatePayload)) {
	m.mu.Lock()
	m.onICE = fn
	m.mu.Unlock()
}

func (m *mockPeer) SetOnRemoteMedia(fn func(domain.RemoteMedia)) {
	m.mu.Lock()
	m.onRemote = fn
	m.mu.Unlock()
}

func (m *mockPeer) CreateOffer() (string, error) {
	m.record("create-offer")
	return m.offerSDP, nil
}

func (m *mockPeer) CreateAnswer() (string, error) {
	m.record("create-answer")
	return m.answerSDP, nil
}

func (m *mockPeer) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.record("set-remote:" + sdp.Type)
	if m.setRemoteErr != nil {
		return m.setRemoteErr
	}
	m.mu.Lock()
	m.remoteSet = true
	m.mu.Unlock()
	return nil
}

func (m *mockPeer) AddRemoteICECandidate(c domain.ICECandidatePayload) error {
	m.mu.Lock()
	set := m.remoteSet
	m.mu.Unlock()
	if !set {
		return errors.New("remote description not set")
	}
	m.record("add-candidate:" + c.Candidate)
	return m.addCandidateErr
}

func (m *mockPeer) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	m.rec.add("peer")
	return nil
}

func (m *mockPeer) log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockPeer) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockPeer) emitCandidate(c domain.ICECandidatePayload) {
	m.mu.Lock()
	fn := m.onICE
	m.mu.Unlock()
	fn(c)
}

func (m *mockPeer) emitRemote(r domain.RemoteMedia) {
	m.mu.Lock()
	fn := m.onRemote
	m.mu.Unlock()
	fn(r)
}

type mockPeerFactory struct {
	peer *mockPeer
	err  error

	mu    sync.Mutex
	calls int
}

func (f *mockPeerFactory) NewPeer() (domain.Peer, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.peer, nil
}

func (f *mockPeerFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// mockSignaler stands in for the relay connection. With autoConnect set,
// Connect reports success immediately.
type mockSignaler struct {
	autoConnect bool
	connectErr  error
	rec         *releaseLog

	mu          sync.Mutex
	handlers    map[domain.EventType]func(domain.SignalMessage)
	onConnected func()
	onError     func(error)
	connected   bool
	endpoint    string
	sent        []domain.SignalMessage
	disconnects int
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{
		autoConnect: true,
		handlers:    make(map[domain.EventType]func(domain.SignalMessage)),
	}
}

func (m *mockSignaler) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	m.endpoint = endpoint
	if m.connectErr != nil {
		m.mu.Unlock()
		return m.connectErr
	}
	auto := m.autoConnect
	m.mu.Unlock()
	if auto {
		m.connect()
	}
	return nil
}

func (m *mockSignaler) connect() {
	m.mu.Lock()
	m.connected = true
	fn := m.onConnected
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *mockSignaler) OnConnected(fn func()) {
	m.mu.Lock()
	m.onConnected = fn
	m.mu.Unlock()
}

func (m *mockSignaler) OnError(fn func(error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

func (m *mockSignaler) On(event domain.EventType, handler func(domain.SignalMessage)) {
	m.mu.Lock()
	m.handlers[event] = handler
	m.mu.Unlock()
}

func (m *mockSignaler) Send(msg domain.SignalMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return domain.ErrNotConnected
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSignaler) Disconnect() {
	m.mu.Lock()
	m.disconnects++
	m.connected = false
	m.handlers = make(map[domain.EventType]func(domain.SignalMessage))
	m.onConnected = nil
	m.onError = nil
	m.mu.Unlock()
	m.rec.add("signal")
}

func (m *mockSignaler) deliver(msg domain.SignalMessage) {
	m.mu.Lock()
	h := m.handlers[msg.Type]
	m.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (m *mockSignaler) fail(err error) {
	m.mu.Lock()
	fn := m.onError
	m.connected = false
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (m *mockSignaler) sentTypes() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]domain.EventType, len(m.sent))
	for i, msg := range m.sent {
		types[i] = msg.Type
	}
	return types
}

func (m *mockSignaler) sentMessages() []domain.SignalMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SignalMessage(nil), m.sent...)
}

func (m *mockSignaler) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// mockRooms is a room lifecycle with canned results.
type mockRooms struct {
	createRole domain.Role
	joinErr    error
}

func (m *mockRooms) CreateRoom(ctx context.Context, callerEmail string) (*domain.Assignment, error) {
	role := m.createRole
	if role == "" {
		role = domain.RoleCaller
	}
	return &domain.Assignment{Role: role, RoomID: "R1", RoomURL: "http://localhost/room/R1", Email: callerEmail}, nil
}

func (m *mockRooms) JoinRoom(ctx context.Context, roomID, calleeEmail string) (*domain.Assignment, error) {
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	return &domain.Assignment{Role: domain.RoleCallee, RoomID: roomID, StatusMessage: "joined", Email: calleeEmail}, nil
}

// stateLog collects transitions reported by the session.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) listener(from, to State) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func (l *stateLog) list() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) count(s State) int {
	n := 0
	for _, st := range l.list() {
		if st == s {
			n++
		}
	}
	return n
}

// harness wires a session to mocks and runs it.
type harness struct {
	rec     *releaseLog
	media   *mockMedia
	source  *mockSource
	peer    *mockPeer
	factory *mockPeerFactory
	sig     *mockSignaler
	states  *stateLog
	s       *Session

	cancel context.CancelFunc
	errc   chan error
}

func newHarness(t *testing.T, role domain.Role, setup ...func(*harness)) *harness {
	t.Helper()
	rec := &releaseLog{}
	h := &harness{
		rec:    rec,
		media:  &mockMedia{rec: rec},
		peer:   &mockPeer{offerSDP: "v=0\r\noffer", answerSDP: "v=0\r\nanswer", rec: rec},
		sig:    newMockSignaler(),
		states: &stateLog{},
		errc:   make(chan error, 1),
	}
	h.sig.rec = rec
	h.source = &mockSource{media: h.media}
	h.factory = &mockPeerFactory{peer: h.peer}
	for _, fn := range setup {
		fn(h)
	}

	s, err := New(
		&domain.Assignment{Role: role, RoomID: "R1", Email: string(role) + "@example.com"},
		h.deps(),
		WithStateListener(h.states.listener),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.s = s
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Media:       h.source,
		Peers:       h.factory,
		NewSignaler: func() domain.Signaler { return h.sig },
		SignalURL:   "ws://relay.test/ws",
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.s.Done()
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not terminate; state=%s", h.s.State())
		return nil
	}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, func() bool { return h.s.State() == want }, "state "+want.String())
}

// activate drives the session to Active through the mock relay.
func (h *harness) activate(t *testing.T) {
	t.Helper()
	h.waitState(t, Negotiating)
	if h.s.Role() == domain.RoleCaller {
		h.sig.deliver(domain.AnswerMessage("R1", "v=0\r\nremote-answer"))
	} else {
		h.sig.deliver(domain.OfferMessage("R1", "v=0\r\nremote-offer"))
	}
	h.waitState(t, Active)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
