package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// actorGroup runs jobs serially per key. Each key has at most one
// goroutine executing its jobs; different keys run concurrently. An
// actor exits as soon as it has no pending jobs and is recreated by the
// next job for its key.
type actorGroup struct {
	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup
	log    zerolog.Logger
}

type actor struct {
	jobs    chan job
	pending int
}

type job struct {
	fn   func()
	done chan struct{}
}

func newActorGroup(log zerolog.Logger) *actorGroup {
	return &actorGroup{
		actors: make(map[string]*actor),
		log:    log,
	}
}

// do runs fn on the actor for key and waits for it to finish. It must not
// be called from a job running on the same key.
func (g *actorGroup) do(key string, fn func()) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrShuttingDown
	}
	a, ok := g.actors[key]
	if !ok {
		a = &actor{jobs: make(chan job, 16)}
		g.actors[key] = a
		g.wg.Add(1)
		go g.run(key, a)
	}
	a.pending++
	g.mu.Unlock()

	j := job{fn: fn, done: make(chan struct{})}
	a.jobs <- j
	<-j.done
	return nil
}

func (g *actorGroup) run(key string, a *actor) {
	defer g.wg.Done()

	for j := range a.jobs {
		g.exec(key, j)

		g.mu.Lock()
		a.pending--
		if a.pending == 0 {
			delete(g.actors, key)
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()
	}
}

func (g *actorGroup) exec(key string, j job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Str("room", key).Interface("panic", r).Msg("room job panicked")
		}
	}()

	j.fn()
}

// len reports the number of running actors.
func (g *actorGroup) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.actors)
}

// close rejects new jobs and waits for running actors to drain.
func (g *actorGroup) close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
