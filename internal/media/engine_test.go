package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideastream/huddle/internal/core"
)

func TestEngineStartDefaultsToCPUCount(t *testing.T) {
	e := NewEngine(DefaultRTCConfig())
	require.NoError(t, e.Start(0))
	t.Cleanup(e.Stop)

	assert.Greater(t, e.Workers(), 0)
	assert.Error(t, e.Start(2), "double start must fail")
}

func TestWorkerIndexWraps(t *testing.T) {
	e := NewEngine(DefaultRTCConfig())
	require.NoError(t, e.Start(2))
	t.Cleanup(e.Stop)

	assert.Same(t, e.Worker(0), e.Worker(2))
	assert.Same(t, e.Worker(1), e.Worker(3))
}

func TestExecOnDeadWorker(t *testing.T) {
	w := newWorker(0, DefaultRTCConfig())

	_ = w.exec(func() { panic("simulated crash") })
	<-w.done

	err := w.exec(func() {})
	assert.ErrorIs(t, err, core.ErrWorkerDead)

	_, err = w.CreateRouter(DefaultCodecs())
	assert.ErrorIs(t, err, core.ErrWorkerDead)
}

func TestWorkerDiedHookFires(t *testing.T) {
	e := NewEngine(DefaultRTCConfig())
	died := make(chan int, 1)
	e.OnWorkerDied(func(id int) { died <- id })
	require.NoError(t, e.Start(2))

	_ = e.Worker(1).exec(func() { panic("simulated crash") })

	select {
	case id := <-died:
		assert.Equal(t, 1, id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker death hook never fired")
	}
}

func TestStopDoesNotFireDiedHook(t *testing.T) {
	e := NewEngine(DefaultRTCConfig())
	died := make(chan int, 1)
	e.OnWorkerDied(func(id int) { died <- id })
	require.NoError(t, e.Start(1))

	e.Stop()

	select {
	case id := <-died:
		t.Fatalf("died hook fired for graceful stop of worker %d", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopClosesRouters(t *testing.T) {
	e := NewEngine(DefaultRTCConfig())
	require.NoError(t, e.Start(1))

	router, err := e.Worker(0).CreateRouter(DefaultCodecs())
	require.NoError(t, err)

	e.Stop()

	_, err = router.CreateTransport("send")
	assert.Error(t, err)
}
