package media

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

// Consumer is one outbound forwarded copy of a remote producer's track,
// bound to the subscriber's recv transport. It starts paused; no media
// flows until the owner resumes it.
type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	params     RTPParameters
	transport  *Transport

	mu      sync.Mutex
	closed  bool
	paused  bool
	onClose []func()
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind { return c.kind }
func (c *Consumer) Params() RTPParameters  { return c.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Resume lets media flow to the subscriber.
func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConsumerNotFound
	}
	c.paused = false
	log.Debug().Str("module", "media.consumer").Str("consumer", c.id).Msg("consumer resumed")
	return nil
}

// Pause stops forwarding without tearing the consumer down.
func (c *Consumer) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConsumerNotFound
	}
	c.paused = true
	return nil
}

// OnClose registers a hook run exactly once when the consumer closes, from
// any of its teardown paths.
func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.onClose = append(c.onClose, fn)
	}
	c.mu.Unlock()
	if closed {
		fn()
	}
}

// Close detaches the consumer from its producer and transport. Idempotent;
// reached from explicit unsubscribe, producer close, and transport close.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.paused = true
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	if producer, ok := c.transport.router.producerByID(c.producerID); ok {
		producer.detach(c.id)
	}
	c.transport.removeConsumer(c.id)
	for _, fn := range hooks {
		fn()
	}
	log.Debug().Str("module", "media.consumer").Str("consumer", c.id).Msg("consumer closed")
}
