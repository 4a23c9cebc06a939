package media

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/domain"
)

// Producer is one inbound track published into a router. It indexes the
// consumers forwarding it so closing the producer tears them down too.
type Producer struct {
	id        string
	kind      domain.MediaKind
	params    RTPParameters
	appData   map[string]any
	transport *Transport

	mu        sync.Mutex
	closed    bool
	consumers map[string]*Consumer
	onClose   []func()
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Params() RTPParameters  { return p.params }

// AppData returns the metadata attached at produce time (peer/user tags).
func (p *Producer) AppData() map[string]any { return p.appData }

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// OnClose registers a hook run exactly once when the producer closes,
// whether explicitly or via transport teardown.
func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.onClose = append(p.onClose, fn)
	}
	p.mu.Unlock()
	if closed {
		fn()
	}
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close stops the track, closes every consumer forwarding it, and removes
// it from its transport and router. Idempotent.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	hooks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	p.transport.removeProducer(p.id)
	p.transport.router.removeProducer(p.id)
	for _, fn := range hooks {
		fn()
	}
	log.Debug().Str("module", "media.producer").Str("producer", p.id).Msg("producer closed")
}
