package media

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/randutil"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

const runesAlpha = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ICEParameters are the server-side ICE credentials for one transport.
type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

// ICECandidate is one server listen address the client can reach.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	IP         string `json:"ip"`
	Port       uint16 `json:"port"`
	Protocol   string `json:"protocol"`
	Type       string `json:"type"`
}

// DTLSFingerprint is a certificate digest used to authenticate the DTLS
// handshake.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters are one side's DTLS role and fingerprints.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportInfo is the descriptor returned to the client so it can complete
// the connection handshake.
type TransportInfo struct {
	ID             string           `json:"id"`
	Direction      domain.Direction `json:"direction"`
	ICEParameters  ICEParameters    `json:"iceParameters"`
	ICECandidates  []ICECandidate   `json:"iceCandidates"`
	DTLSParameters DTLSParameters   `json:"dtlsParameters"`
}

func newICEParameters() ICEParameters {
	ufrag, _ := randutil.GenerateCryptoRandomString(16, runesAlpha)
	pwd, _ := randutil.GenerateCryptoRandomString(32, runesAlpha)
	return ICEParameters{UsernameFragment: ufrag, Password: pwd}
}

func newICECandidate(cfg RTCConfig, port uint16) ICECandidate {
	foundation, _ := randutil.GenerateCryptoRandomString(8, runesAlpha)
	ip := cfg.AnnouncedIP
	if ip == "" {
		ip = cfg.ListenIP
	}
	return ICECandidate{
		Foundation: foundation,
		IP:         ip,
		Port:       port,
		Protocol:   "udp",
		Type:       "host",
	}
}

func newDTLSParameters() DTLSParameters {
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	digest := sha256.Sum256(seed)
	hexDigest := hex.EncodeToString(digest[:])
	parts := make([]string, 0, len(hexDigest)/2)
	for i := 0; i < len(hexDigest); i += 2 {
		parts = append(parts, hexDigest[i:i+2])
	}
	return DTLSParameters{
		Role: "auto",
		Fingerprints: []DTLSFingerprint{
			{Algorithm: "sha-256", Value: strings.ToUpper(strings.Join(parts, ":"))},
		},
	}
}

// Transport is one negotiated network path between a peer and the room's
// router. A send transport carries the peer's producers in; a recv
// transport carries its consumers out.
type Transport struct {
	id        string
	direction domain.Direction
	router    *Router

	ice        ICEParameters
	candidates []ICECandidate
	dtls       DTLSParameters

	mu                 sync.Mutex
	closed             bool
	connected          bool
	maxIncomingBitrate uint64
	producers          map[string]*Producer
	consumers          map[string]*Consumer
}

func (t *Transport) ID() string                  { return t.id }
func (t *Transport) Direction() domain.Direction { return t.direction }

// Info returns the client-facing connection descriptor.
func (t *Transport) Info() TransportInfo {
	return TransportInfo{
		ID:             t.id,
		Direction:      t.direction,
		ICEParameters:  t.ice,
		ICECandidates:  t.candidates,
		DTLSParameters: t.dtls,
	}
}

// Connect completes the handshake with the client's DTLS parameters. A
// transport connects exactly once.
func (t *Transport) Connect(remote DTLSParameters) error {
	if len(remote.Fingerprints) == 0 {
		return fmt.Errorf("connect transport %s: no remote fingerprints", t.id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return core.ErrTransportNotFound
	}
	if t.connected {
		return core.ErrAlreadyConnected
	}
	t.connected = true
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Msg("transport connected")
	return nil
}

// SetMaxIncomingBitrate caps inbound media on this transport.
func (t *Transport) SetMaxIncomingBitrate(bps uint64) {
	t.mu.Lock()
	t.maxIncomingBitrate = bps
	t.mu.Unlock()
}

// Produce publishes one inbound track on a send transport.
func (t *Transport) Produce(kind domain.MediaKind, params RTPParameters, appData map[string]any) (*Producer, error) {
	if !kind.Valid() {
		return nil, core.ErrInvalidKind
	}
	if t.direction != domain.DirectionSend {
		return nil, core.ErrWrongDirection
	}
	if !t.router.supportsCodec(params.Codec) {
		return nil, fmt.Errorf("produce %s %s: %w", kind, params.Codec.MimeType, core.ErrIncompatibleCapabilities)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, core.ErrTransportNotFound
	}
	p := &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		params:    params,
		appData:   appData,
		transport: t,
		consumers: make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.registerProducer(p)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Str("producer", p.id).Str("kind", string(kind)).Msg("producer created")
	return p, nil
}

// Consume subscribes this transport's peer to an existing producer. The
// consumer starts paused; the subscriber resumes it when ready to render.
func (t *Transport) Consume(producerID string, caps Capabilities) (*Consumer, error) {
	if t.direction != domain.DirectionRecv {
		return nil, core.ErrWrongDirection
	}
	producer, ok := t.router.producerByID(producerID)
	if !ok || producer.Closed() {
		return nil, core.ErrProducerNotFound
	}
	if !t.router.CanConsume(producerID, caps) {
		return nil, fmt.Errorf("consume %s: %w", producerID, core.ErrIncompatibleCapabilities)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, core.ErrTransportNotFound
	}
	c := &Consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       producer.kind,
		params:     producer.params,
		transport:  t,
		paused:     true,
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	producer.attach(c)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Str("consumer", c.id).Str("producer", producerID).Msg("consumer created")
	return c, nil
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

// Close tears down the transport and everything riding it: producers first
// (which cascades to their remote consumers), then this side's consumers.
// Idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	t.router.removeTransport(t.id)
	log.Debug().Str("module", "media.transport").Str("transport", t.id).Msg("transport closed")
}
