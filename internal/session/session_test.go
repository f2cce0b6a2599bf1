package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qtrack/consult/internal/core"
	"github.com/qtrack/consult/internal/domain"
)

// Mocks

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Messages(ctx context.Context, room domain.RoomID) ([]domain.Message, error) {
	args := m.Called(ctx, room)
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockStore) Send(ctx context.Context, room domain.RoomID, role domain.Role, text string) (domain.Message, error) {
	args := m.Called(ctx, room, role, text)
	return args.Get(0).(domain.Message), args.Error(1)
}

type fakeChannel struct {
	mu        sync.Mutex
	joined    []domain.RoomID
	roles     []domain.Role
	emitted   []core.Event
	subs      []func(core.Event)
	connSubs  []func(bool)
	connected bool
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true}
}

func (c *fakeChannel) Join(room domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, room)
}

func (c *fakeChannel) Identify(role domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = append(c.roles, role)
}

func (c *fakeChannel) Emit(ev core.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, ev)
	return nil
}

func (c *fakeChannel) Subscribe(fn func(core.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.subs)
	c.subs = append(c.subs, fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs[i] = nil
	}
}

func (c *fakeChannel) OnConnState(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.connSubs)
	c.connSubs = append(c.connSubs, fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.connSubs[i] = nil
	}
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Push fans an inbound event to subscribers the way a read loop would.
func (c *fakeChannel) Push(ev core.Event) {
	c.mu.Lock()
	subs := append([]func(core.Event){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(ev)
		}
	}
}

func (c *fakeChannel) Emitted() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event{}, c.emitted...)
}

func (c *fakeChannel) emittedOfType(t string) []core.Event {
	var out []core.Event
	for _, ev := range c.Emitted() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeTrack struct {
	mu     sync.Mutex
	closed bool
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return "cam0" }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "local" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return webrtc.RTPCodecTypeVideo }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

type fakeDevices struct {
	mu       sync.Mutex
	track    *fakeTrack
	gate     chan struct{} // when set, Acquire blocks until closed
	waiting  int
	err      error
	acquired int
	released int
}

func (d *fakeDevices) Acquire(ctx context.Context) ([]core.LocalTrack, error) {
	if d.gate != nil {
		d.mu.Lock()
		d.waiting++
		d.mu.Unlock()
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.acquired++
	if d.track == nil || !d.track.live() {
		d.track = &fakeTrack{}
	}
	return []core.LocalTrack{d.track}, nil
}

func (d *fakeDevices) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	if d.track != nil {
		_ = d.track.Close()
	}
}

func (d *fakeDevices) waiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

func (d *fakeDevices) stats() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.released
}

type fakePeer struct {
	mu             sync.Mutex
	started        bool
	closed         bool
	sendersStopped bool
	tracks         int
	appliedAnswer  string
	remoteCands    []webrtc.ICECandidateInit
	answerErr      error
	onICE          func(webrtc.ICECandidateInit)
	onTrack        func(*webrtc.TrackRemote)
}

func (p *fakePeer) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *fakePeer) CreateAndSetOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) ApplyAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return p.answerErr
	}
	p.appliedAnswer = sdp
	return nil
}

func (p *fakePeer) ApplyOfferAndCreateAnswer(string) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteCands = append(p.remoteCands, ci)
	return nil
}

func (p *fakePeer) AddLocalTrack(core.LocalTrack) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil, nil
}

func (p *fakePeer) StopSenders() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendersStopped = true
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }
func (p *fakePeer) OnTrack(fn func(*webrtc.TrackRemote))            { p.onTrack = fn }

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeSurface struct {
	mu      sync.Mutex
	local   int
	remote  int
	cleared int
}

func (s *fakeSurface) BindLocal([]core.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local++
}

func (s *fakeSurface) BindRemote(*webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote++
}

func (s *fakeSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
}

// Harness

const testRoom = domain.RoomID("R1")

type harness struct {
	sess    *Session
	ch      *fakeChannel
	store   *MockStore
	devices *fakeDevices
	peers   []*fakePeer
	surface *fakeSurface
}

func newHarness(t *testing.T, role domain.Role, history []domain.Message) *harness {
	t.Helper()
	h := &harness{
		ch:      newFakeChannel(),
		store:   new(MockStore),
		devices: &fakeDevices{},
		surface: &fakeSurface{},
	}
	h.store.On("Messages", mock.Anything, testRoom).Return(history, nil).Once()

	var mu sync.Mutex
	h.sess = New(Config{
		Room:    testRoom,
		Role:    role,
		Channel: h.ch,
		Store:   h.store,
		Devices: h.devices,
		Surface: h.surface,
		Peers: func() (core.PeerLink, error) {
			p := &fakePeer{}
			mu.Lock()
			h.peers = append(h.peers, p)
			mu.Unlock()
			return p, nil
		},
	})
	require.NoError(t, h.sess.Open(context.Background()))
	t.Cleanup(h.sess.Close)
	return h
}

func (h *harness) lastPeer() *fakePeer {
	if len(h.peers) == 0 {
		return nil
	}
	return h.peers[len(h.peers)-1]
}

func serverMsg(id, text string, at time.Time) domain.Message {
	return domain.Message{ID: id, RoomID: testRoom, SenderRole: domain.RoleDoctor, Text: text, CreatedAt: at}
}

// Message reconciliation

func TestOpenSeedsHistoryBeforeLiveEvents(t *testing.T) {
	now := time.Now().UTC()
	history := []domain.Message{serverMsg("m1", "earlier", now.Add(-time.Minute))}
	h := newHarness(t, domain.RolePatient, history)

	assert.Equal(t, history, h.sess.Messages())

	live := serverMsg("m2", "now", now)
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &live})
	assert.Equal(t, []domain.Message{history[0], live}, h.sess.Messages())

	// join + identify announced once each
	assert.Equal(t, []domain.RoomID{testRoom}, h.ch.joined)
	assert.Equal(t, []domain.Role{domain.RolePatient}, h.ch.roles)
}

func TestIncomingDedupByStableID(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	now := time.Now().UTC()

	first := serverMsg("m1", "hello", now)
	second := serverMsg("m2", "again", now)
	dup := serverMsg("m1", "hello edited", now.Add(time.Second))

	h.ch.Push(core.Event{Type: core.EventMessage, Message: &first})
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &second})
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &dup})

	got := h.sess.Messages()
	require.Len(t, got, 2)
	// first-seen entry keeps its position and content
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestIncomingDedupByTextAndTimestamp(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	now := time.Now().UTC()

	anon := domain.Message{RoomID: testRoom, SenderRole: domain.RoleDoctor, Text: "Hello", CreatedAt: now}
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &anon})
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &anon})

	require.Len(t, h.sess.Messages(), 1)

	// same text, different timestamp is a distinct entry
	later := anon
	later.CreatedAt = now.Add(time.Second)
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &later})
	assert.Len(t, h.sess.Messages(), 2)
}

func TestIncomingOtherRoomIgnored(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	foreign := domain.Message{ID: "x", RoomID: "R2", SenderRole: domain.RoleDoctor, Text: "hi", CreatedAt: time.Now()}
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &foreign})
	assert.Empty(t, h.sess.Messages())
}

func TestBasicExchangeScenario(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	now := time.Now().UTC()
	hello := domain.Message{RoomID: testRoom, SenderRole: domain.RoleDoctor, Text: "Hello", CreatedAt: now}
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &hello})

	got := h.sess.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "Hello", got[0].Text)
	assert.Equal(t, domain.RoleDoctor, got[0].SenderRole)
}

func TestSendMessageOptimisticReplace(t *testing.T) {
	h := newHarness(t, domain.RoleDoctor, nil)
	now := time.Now().UTC()

	confirmed := serverMsg("srv1", "Hello", now)
	h.store.On("Send", mock.Anything, testRoom, domain.RoleDoctor, "Hello").Return(confirmed, nil).Once()

	require.NoError(t, h.sess.SendMessage(context.Background(), "  Hello  "))

	got := h.sess.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, confirmed, got[0])
	h.store.AssertExpectations(t)
}

func TestSendMessageReplaceKeepsPosition(t *testing.T) {
	h := newHarness(t, domain.RoleDoctor, nil)
	now := time.Now().UTC()

	// a live event lands while our send is pending; the pending entry
	// must stay at its slot when confirmed
	confirmed := serverMsg("srv1", "first", now)
	h.store.On("Send", mock.Anything, testRoom, domain.RoleDoctor, "first").
		Run(func(mock.Arguments) {
			live := domain.Message{ID: "srv2", RoomID: testRoom, SenderRole: domain.RolePatient, Text: "interleaved", CreatedAt: now}
			h.ch.Push(core.Event{Type: core.EventMessage, Message: &live})
		}).
		Return(confirmed, nil).Once()

	require.NoError(t, h.sess.SendMessage(context.Background(), "first"))

	got := h.sess.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "srv1", got[0].ID)
	assert.Equal(t, "srv2", got[1].ID)
}

func TestSendMessageRollbackOnFailure(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	now := time.Now().UTC()
	existing := serverMsg("m1", "before", now)
	h.ch.Push(core.Event{Type: core.EventMessage, Message: &existing})
	before := h.sess.Messages()

	h.store.On("Send", mock.Anything, testRoom, domain.RolePatient, "doomed").
		Return(domain.Message{}, errors.New("Failed to send message")).Once()

	err := h.sess.SendMessage(context.Background(), "doomed")
	require.Error(t, err)
	assert.Equal(t, "Failed to send message", err.Error())
	assert.Equal(t, before, h.sess.Messages())
}

func TestSendMessageEmptyIsNoop(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)
	require.NoError(t, h.sess.SendMessage(context.Background(), "   \n\t"))
	assert.Empty(t, h.sess.Messages())
	h.store.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendConfirmAfterChannelEcho(t *testing.T) {
	h := newHarness(t, domain.RoleDoctor, nil)
	now := time.Now().UTC()

	confirmed := serverMsg("srv1", "Hello", now)
	h.store.On("Send", mock.Anything, testRoom, domain.RoleDoctor, "Hello").
		Run(func(mock.Arguments) {
			// channel echo beats the REST reply
			echo := confirmed
			h.ch.Push(core.Event{Type: core.EventMessage, Message: &echo})
		}).
		Return(confirmed, nil).Once()

	require.NoError(t, h.sess.SendMessage(context.Background(), "Hello"))

	got := h.sess.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "srv1", got[0].ID)
}

// Lifecycle

func TestCloseWithConcurrentCommandsReturns(t *testing.T) {
	h := newHarness(t, domain.RolePatient, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.sess.CallState()
				h.sess.Messages()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.sess.Close()
	}()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("commands racing Close did not return")
	}
}

func TestOpenReportsConnectingWhenLinkDown(t *testing.T) {
	ch := newFakeChannel()
	ch.connected = false

	store := new(MockStore)
	store.On("Messages", mock.Anything, testRoom).Return([]domain.Message(nil), nil).Once()

	var mu sync.Mutex
	var flips []bool
	sess := New(Config{
		Room:    testRoom,
		Role:    domain.RolePatient,
		Channel: ch,
		Store:   store,
		Devices: &fakeDevices{},
		Surface: &fakeSurface{},
		Peers:   func() (core.PeerLink, error) { return &fakePeer{}, nil },
		Handler: Handler{OnConnecting: func(v bool) {
			mu.Lock()
			flips = append(flips, v)
			mu.Unlock()
		}},
	})
	require.NoError(t, sess.Open(context.Background()))
	t.Cleanup(sess.Close)

	// Open waits for its loop turn, so the initial flip is already
	// delivered, and from the loop goroutine like every other callback.
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, flips)
	assert.True(t, flips[0])
}
