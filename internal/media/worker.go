package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
)

// Worker is one isolated media-processing context. All router lifecycle
// operations on it go through a single command loop, so a worker that stops
// draining its queue is observably dead rather than silently wedged.
type Worker struct {
	id  int
	cfg RTCConfig

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	graceful bool
	routers  map[string]*Router
	nextPort uint16
}

func newWorker(id int, cfg RTCConfig) *Worker {
	w := &Worker{
		id:       id,
		cfg:      cfg,
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		routers:  make(map[string]*Router),
		nextPort: cfg.MinPort,
	}
	go w.run()
	return w
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "media.worker").Int("worker", w.id).Any("panic", r).Msg("worker loop panicked")
		}
		close(w.done)
	}()
	for {
		select {
		case cmd := <-w.cmds:
			cmd()
		case <-w.quit:
			return
		}
	}
}

// exec runs fn on the worker loop and waits for it. Returns ErrWorkerDead
// when the loop is no longer serving.
func (w *Worker) exec(fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	select {
	case w.cmds <- wrapped:
	case <-w.quit:
		return core.ErrWorkerDead
	case <-w.done:
		return core.ErrWorkerDead
	}
	select {
	case <-ran:
		return nil
	case <-w.done:
		return core.ErrWorkerDead
	}
}

// CreateRouter allocates a routing context on this worker with the given
// codec table.
func (w *Worker) CreateRouter(codecs []webrtc.RTPCodecCapability) (*Router, error) {
	var router *Router
	err := w.exec(func() {
		router = &Router{
			id:         uuid.NewString(),
			worker:     w,
			codecs:     codecs,
			transports: make(map[string]*Transport),
			producers:  make(map[string]*Producer),
		}
		w.mu.Lock()
		w.routers[router.id] = router
		w.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "media.worker").Int("worker", w.id).Str("router", router.id).Msg("router created")
	return router, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

// allocPort hands out media ports from the worker's configured range,
// wrapping around on exhaustion.
func (w *Worker) allocPort() uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	port := w.nextPort
	w.nextPort++
	if w.nextPort > w.cfg.MaxPort {
		w.nextPort = w.cfg.MinPort
	}
	return port
}

// Close shuts the worker down gracefully, closing its routers first.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.graceful = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	close(w.quit)
}

func (w *Worker) closedGracefully() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.graceful
}
