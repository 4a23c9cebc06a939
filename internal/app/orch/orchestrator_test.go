package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideastream/huddle/internal/app"
	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// fakeSignal records every frame pushed to one peer. With fail set it
// behaves like a client whose outbound queue is full.
type fakeSignal struct {
	mu     sync.Mutex
	fail   bool
	frames []core.Frame
}

func (f *fakeSignal) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send queue full")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSignal) Close() {}

func (f *fakeSignal) pushes(t *testing.T, typ string) []json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, frame := range f.frames {
		var env pushEnvelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Type != typ {
			continue
		}
		data, err := json.Marshal(env.Data)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func (f *fakeSignal) count(t *testing.T, typ string) int {
	return len(f.pushes(t, typ))
}

type fakeMembership struct{ err error }

func (m fakeMembership) Authorize(context.Context, domain.RoomID, domain.UserID) error {
	return m.err
}

type recordedEvents struct {
	mu      sync.Mutex
	started []domain.CallSummary
	ended   []string
}

func (e *recordedEvents) CallStarted(_ context.Context, s domain.CallSummary) {
	e.mu.Lock()
	e.started = append(e.started, s)
	e.mu.Unlock()
}

func (e *recordedEvents) CallEnded(_ context.Context, _ domain.RoomID, reason string) {
	e.mu.Lock()
	e.ended = append(e.ended, reason)
	e.mu.Unlock()
}

func (e *recordedEvents) startedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

func (e *recordedEvents) endedReasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ended...)
}

type fixture struct {
	orch   *Orchestrator
	events *recordedEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := media.NewEngine(media.DefaultRTCConfig())
	require.NoError(t, engine.Start(2))
	t.Cleanup(engine.Stop)

	events := &recordedEvents{}
	return &fixture{
		events: events,
		orch: &Orchestrator{
			Registry:           app.NewRegistry(engine, media.DefaultCodecs()),
			Membership:         fakeMembership{},
			Events:             events,
			Policy:             app.SimplePolicy{},
			MaxIncomingBitrate: 1_500_000,
		},
	}
}

func allCaps() media.Capabilities {
	return media.Capabilities{Codecs: media.DefaultCodecs()}
}

func opusParams() media.RTPParameters {
	return media.RTPParameters{
		Codec:     webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		Encodings: []media.RTPEncoding{{SSRC: 1111}},
	}
}

func remoteDTLS() media.DTLSParameters {
	return media.DTLSParameters{
		Role:         "client",
		Fingerprints: []media.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}
}

func (f *fixture) join(t *testing.T, peer, call, user string) ([]domain.PeerInfo, *fakeSignal) {
	t.Helper()
	sig := &fakeSignal{}
	existing, err := f.orch.Join(context.Background(), domain.PeerID(peer), domain.RoomID(call), domain.UserID(user), "", sig, allCaps())
	require.NoError(t, err)
	return existing, sig
}

// publish sets up a connected send transport and produces one audio track.
func (f *fixture) publish(t *testing.T, peer string) string {
	t.Helper()
	id := domain.PeerID(peer)
	info, err := f.orch.CreateTransport(id, domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConnectTransport(id, info.ID, remoteDTLS()))
	producerID, err := f.orch.Produce(id, info.ID, domain.MediaAudio, opusParams(), nil)
	require.NoError(t, err)
	return producerID
}

// subscribe sets up a connected recv transport and consumes the producer.
func (f *fixture) subscribe(t *testing.T, peer, producerID string) ConsumerDescriptor {
	t.Helper()
	id := domain.PeerID(peer)
	info, err := f.orch.CreateTransport(id, domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConnectTransport(id, info.ID, remoteDTLS()))
	desc, err := f.orch.Consume(id, info.ID, producerID, allCaps())
	require.NoError(t, err)
	return desc
}

func TestTwoPartyCall(t *testing.T) {
	f := newFixture(t)

	existing, sigA := f.join(t, "peer-a", "call-1", "user-a")
	assert.Empty(t, existing)

	existing, sigB := f.join(t, "peer-b", "call-1", "user-b")
	require.Len(t, existing, 1)
	assert.Equal(t, domain.PeerID("peer-a"), existing[0].PeerID)
	assert.Equal(t, 1, sigA.count(t, PushPeerJoined))

	producerID := f.publish(t, "peer-a")

	announcements := sigB.pushes(t, PushNewProducer)
	require.Len(t, announcements, 1)
	var announced domain.ProducerInfo
	require.NoError(t, json.Unmarshal(announcements[0], &announced))
	assert.Equal(t, producerID, announced.ProducerID)
	assert.Equal(t, domain.PeerID("peer-a"), announced.PeerID)
	assert.Equal(t, domain.MediaAudio, announced.Kind)
	assert.Zero(t, sigA.count(t, PushNewProducer), "publisher must not hear its own announcement")

	listed, err := f.orch.ListProducers("call-1", "peer-b")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, producerID, listed[0].ProducerID)

	desc := f.subscribe(t, "peer-b", producerID)
	assert.Equal(t, producerID, desc.ProducerID)
	assert.Equal(t, domain.PeerID("peer-a"), desc.SourcePeerID)
	assert.Equal(t, domain.UserID("user-a"), desc.SourceUserID)

	peerB, ok := f.orch.Registry.Peer("peer-b")
	require.True(t, ok)
	consumer, ok := peerB.Consumer(desc.ConsumerID)
	require.True(t, ok)
	assert.True(t, consumer.Paused(), "consumers start paused")

	require.NoError(t, f.orch.ResumeConsumer("peer-b", desc.ConsumerID))
	assert.False(t, consumer.Paused())

	f.orch.Leave("peer-b")
	assert.Equal(t, 1, sigA.count(t, PushPeerLeft))

	f.orch.Leave("peer-a")
	assert.Equal(t, 0, f.orch.Stats().Rooms)
	assert.Equal(t, 0, f.orch.Stats().Peers)
	assert.Equal(t, []string{"all participants left"}, f.events.endedReasons())
}

func TestNewProducerExcludesPublisher(t *testing.T) {
	f := newFixture(t)

	_, sigA := f.join(t, "peer-a", "call-1", "user-a")
	_, sigB := f.join(t, "peer-b", "call-1", "user-b")
	_, sigC := f.join(t, "peer-c", "call-1", "user-c")

	f.publish(t, "peer-a")

	assert.Zero(t, sigA.count(t, PushNewProducer))
	assert.Equal(t, 1, sigB.count(t, PushNewProducer))
	assert.Equal(t, 1, sigC.count(t, PushNewProducer))
}

func TestLeaveTearsDownResources(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	_, sigB := f.join(t, "peer-b", "call-1", "user-b")

	producerID := f.publish(t, "peer-a")
	desc := f.subscribe(t, "peer-b", producerID)

	peerB, ok := f.orch.Registry.Peer("peer-b")
	require.True(t, ok)
	consumer, ok := peerB.Consumer(desc.ConsumerID)
	require.True(t, ok)

	f.orch.Leave("peer-a")

	assert.True(t, consumer.Closed(), "a leaving publisher takes subscriber consumers down")
	_, ok = peerB.Consumer(desc.ConsumerID)
	assert.False(t, ok, "dead consumers must not linger in the subscriber arena")
	_, ok = f.orch.Registry.Peer("peer-a")
	assert.False(t, ok)
	assert.Equal(t, 1, sigB.count(t, PushPeerLeft))

	listed, err := f.orch.ListProducers("call-1", "peer-b")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRoomAutoCloseOnLastLeave(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	assert.Equal(t, 1, f.events.startedCount())

	f.orch.Leave("peer-a")
	_, ok := f.orch.Registry.Room("call-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"all participants left"}, f.events.endedReasons())

	// The same call id lands on a fresh room with a fresh start event.
	f.join(t, "peer-b", "call-1", "user-b")
	assert.Equal(t, 2, f.events.startedCount())
	room, ok := f.orch.Registry.Room("call-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.PeerCount())
}

func TestConsumeAcrossRoomsFails(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	f.join(t, "peer-b", "call-2", "user-b")

	producerID := f.publish(t, "peer-a")

	info, err := f.orch.CreateTransport("peer-b", domain.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConnectTransport("peer-b", info.ID, remoteDTLS()))

	_, err = f.orch.Consume("peer-b", info.ID, producerID, allCaps())
	assert.ErrorIs(t, err, core.ErrProducerNotFound)
}

func TestAuthorizationGateCreatesNoState(t *testing.T) {
	f := newFixture(t)
	f.orch.Membership = fakeMembership{err: core.ErrNotAuthorized}

	_, err := f.orch.CreateRoom(context.Background(), "call-1", "user-x")
	assert.ErrorIs(t, err, core.ErrNotAuthorized)

	sig := &fakeSignal{}
	_, err = f.orch.Join(context.Background(), "peer-x", "call-1", "user-x", "", sig, allCaps())
	assert.ErrorIs(t, err, core.ErrNotAuthorized)

	assert.Equal(t, 0, f.orch.Stats().Rooms)
	assert.Equal(t, 0, f.orch.Stats().Peers)
	assert.Zero(t, f.events.startedCount())
}

func TestDuplicateLeaveIsNoop(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	f.orch.Leave("peer-a")
	f.orch.Leave("peer-a")
	f.orch.Leave("peer-never-joined")

	assert.Equal(t, []string{"all participants left"}, f.events.endedReasons())
}

func TestResumeConsumerOwnership(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	f.join(t, "peer-b", "call-1", "user-b")

	producerID := f.publish(t, "peer-a")
	desc := f.subscribe(t, "peer-b", producerID)

	err := f.orch.ResumeConsumer("peer-a", desc.ConsumerID)
	assert.ErrorIs(t, err, core.ErrConsumerNotFound, "only the owning peer can resume a consumer")
	require.NoError(t, f.orch.ResumeConsumer("peer-b", desc.ConsumerID))
}

func TestProduceAfterCloseProducer(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	_, sigB := f.join(t, "peer-b", "call-1", "user-b")

	id := domain.PeerID("peer-a")
	info, err := f.orch.CreateTransport(id, domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, f.orch.ConnectTransport(id, info.ID, remoteDTLS()))

	first, err := f.orch.Produce(id, info.ID, domain.MediaAudio, opusParams(), nil)
	require.NoError(t, err)
	require.NoError(t, f.orch.CloseProducer(id, first))

	// Device switch reuses the transport.
	second, err := f.orch.Produce(id, info.ID, domain.MediaAudio, opusParams(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	assert.Equal(t, 1, sigB.count(t, PushProducerClosed))
	assert.Equal(t, 2, sigB.count(t, PushNewProducer))

	listed, err := f.orch.ListProducers("call-1", "peer-b")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, second, listed[0].ProducerID)
}

func TestSlowPeerKicked(t *testing.T) {
	f := newFixture(t)

	f.join(t, "peer-a", "call-1", "user-a")
	_, sigB := f.join(t, "peer-b", "call-1", "user-b")
	sigB.mu.Lock()
	sigB.fail = true
	sigB.mu.Unlock()

	f.publish(t, "peer-a")

	_, ok := f.orch.Registry.Peer("peer-b")
	assert.False(t, ok, "a peer that cannot drain pushes gets kicked")
	room, ok := f.orch.Registry.Room("call-1")
	require.True(t, ok)
	assert.Equal(t, 1, room.PeerCount())
}

func TestEndCall(t *testing.T) {
	f := newFixture(t)

	_, sigA := f.join(t, "peer-a", "call-1", "user-a")
	_, sigB := f.join(t, "peer-b", "call-1", "user-b")

	require.NoError(t, f.orch.EndCall(context.Background(), "call-1", "ended by moderator"))

	for _, sig := range []*fakeSignal{sigA, sigB} {
		ends := sig.pushes(t, PushCallEnded)
		require.Len(t, ends, 1)
		var payload struct {
			CallID domain.RoomID `json:"callId"`
			Reason string        `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(ends[0], &payload))
		assert.Equal(t, domain.RoomID("call-1"), payload.CallID)
		assert.Equal(t, "ended by moderator", payload.Reason)
	}

	assert.Equal(t, 0, f.orch.Stats().Rooms)
	assert.Equal(t, 0, f.orch.Stats().Peers)
	assert.Equal(t, []string{"ended by moderator"}, f.events.endedReasons())

	assert.ErrorIs(t, f.orch.EndCall(context.Background(), "call-1", "again"), core.ErrRoomNotFound)
}

func TestJoinRacingLastLeave(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 100; i++ {
		call := domain.RoomID(fmt.Sprintf("race-%d", i))
		peerA := domain.PeerID(fmt.Sprintf("peer-a-%d", i))
		peerB := domain.PeerID(fmt.Sprintf("peer-b-%d", i))

		before := f.events.startedCount()
		_, err := f.orch.Join(context.Background(), peerA, call, "user-a", "", &fakeSignal{}, allCaps())
		require.NoError(t, err)
		first, ok := f.orch.Registry.Room(call)
		require.True(t, ok)

		var wg sync.WaitGroup
		wg.Add(2)
		var joinErr error
		go func() {
			defer wg.Done()
			f.orch.Leave(peerA)
		}()
		go func() {
			defer wg.Done()
			_, joinErr = f.orch.Join(context.Background(), peerB, call, "user-b", "", &fakeSignal{}, allCaps())
		}()
		wg.Wait()

		require.NoError(t, joinErr)
		room, ok := f.orch.Registry.Room(call)
		require.True(t, ok, "the room the join landed in must stay registered")
		_, ok = room.Peer(peerB)
		require.True(t, ok)
		_, ok = f.orch.Registry.Peer(peerB)
		require.True(t, ok, "no ghost entries in the peer index")

		want := 1
		if room != first {
			want = 2
		}
		assert.Equal(t, before+want, f.events.startedCount(), "a recreated call must announce itself")

		f.orch.Leave(peerB)
	}
}

func TestRejoinReplacesSession(t *testing.T) {
	f := newFixture(t)

	_, first := f.join(t, "peer-a", "call-1", "user-a")
	_, second := f.join(t, "peer-a", "call-1", "user-a")
	assert.NotSame(t, first, second)

	assert.Equal(t, 1, f.orch.Stats().Peers)
	peer, ok := f.orch.Registry.Peer("peer-a")
	require.True(t, ok)
	assert.Same(t, core.SignalConnection(second), peer.Signal())
}
