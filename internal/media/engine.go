// Package media is the in-process media engine: a pool of isolated workers
// hosting per-room routers that bridge producers to consumers. It exposes
// the same vocabulary the signaling layer speaks (transport, producer,
// consumer) and keeps all forwarding state behind this package boundary.
package media

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
)

// RTCConfig holds the network-facing parameters handed out with every
// transport descriptor.
type RTCConfig struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
}

func DefaultRTCConfig() RTCConfig {
	return RTCConfig{
		ListenIP:    "0.0.0.0",
		AnnouncedIP: "127.0.0.1",
		MinPort:     40000,
		MaxPort:     40100,
	}
}

// Engine owns the worker pool. Worker selection policy lives with the
// caller; the engine only guarantees the workers stay alive and screams
// through OnWorkerDied when one does not.
type Engine struct {
	cfg RTCConfig

	mu      sync.RWMutex
	workers []*Worker
	stopped bool
	onDied  func(workerID int)
}

func NewEngine(cfg RTCConfig) *Engine {
	return &Engine{cfg: cfg}
}

// OnWorkerDied registers the fatal-path hook. Must be set before Start;
// the default hook only logs, which is never what production wants.
func (e *Engine) OnWorkerDied(fn func(workerID int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDied = fn
}

// Start brings up count workers. A count below one defaults to the number
// of CPU cores, mirroring one worker per core.
func (e *Engine) Start(count int) error {
	if count < 1 {
		count = runtime.NumCPU()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.workers) > 0 {
		return fmt.Errorf("engine already started with %d workers", len(e.workers))
	}

	for i := 0; i < count; i++ {
		w := newWorker(i, e.cfg)
		e.workers = append(e.workers, w)
		go e.watch(w)
	}

	log.Info().Str("module", "media.engine").Int("workers", count).Msg("engine started")
	return nil
}

// watch fires the died hook when a worker's loop exits outside Stop.
func (e *Engine) watch(w *Worker) {
	<-w.done

	e.mu.RLock()
	stopped := e.stopped
	hook := e.onDied
	e.mu.RUnlock()

	if stopped || w.closedGracefully() {
		return
	}
	log.Error().Str("module", "media.engine").Int("worker", w.id).Msg("worker died unexpectedly")
	if hook != nil {
		hook(w.id)
	}
}

// Workers returns the pool size.
func (e *Engine) Workers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.workers)
}

// Worker returns the worker at index i. The index must come from the
// caller's own assignment policy and stays valid for the engine lifetime.
func (e *Engine) Worker(i int) *Worker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workers[i%len(e.workers)]
}

// Stop shuts every worker down gracefully. Routers still open on a worker
// are closed with it.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	workers := e.workers
	e.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	log.Info().Str("module", "media.engine").Msg("engine stopped")
}
