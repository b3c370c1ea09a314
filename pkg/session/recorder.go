package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
)

// recordBuffer is how many pending writes the recorder holds before it
// starts dropping.
const recordBuffer = 256

type record struct {
	estimate *loop.Estimate
	perf     *loop.Perf
	at       time.Time
	cmds     []mapping.Command
}

// Recorder writes loop activity into a session. Hook callbacks only queue;
// a background goroutine does the writes, so a slow disk never stalls a
// tick. When the queue is full records are dropped and counted.
type Recorder struct {
	store   *Store
	session Session
	logger  *slog.Logger

	mu      sync.RWMutex // guards queue against close
	queue   chan record
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder starts recording into session.
func NewRecorder(store *Store, session Session, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:   store,
		session: session,
		logger:  log.Or(logger).With("component", "recorder", "session", session.ID),
		queue:   make(chan record, recordBuffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Session returns the session being recorded.
func (r *Recorder) Session() Session {
	return r.session
}

// Hooks returns loop hooks feeding this recorder.
func (r *Recorder) Hooks() loop.Hooks {
	return loop.Hooks{
		OnEstimate: func(e loop.Estimate) {
			r.enqueue(record{estimate: &e})
		},
		OnCommands: func(at time.Time, cmds []mapping.Command) {
			r.enqueue(record{at: at, cmds: append([]mapping.Command(nil), cmds...)})
		},
		OnPerf: func(p loop.Perf) {
			r.enqueue(record{perf: &p})
		},
	}
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			r.logger.Warn("recorder queue full, dropping", "dropped", n)
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	ctx := context.Background()
	id := r.session.ID

	for rec := range r.queue {
		var err error
		switch {
		case rec.estimate != nil:
			err = r.store.AddFrame(ctx, id, *rec.estimate)
		case rec.perf != nil:
			err = r.store.AddPerf(ctx, id, *rec.perf)
		case len(rec.cmds) > 0:
			err = r.store.AddCommands(ctx, id, rec.at, rec.cmds)
		}
		if err != nil {
			if n := r.failed.Add(1); n%100 == 1 {
				r.logger.Error("recording failed", "error", err, "failures", n)
			}
		}
	}
}

// Close flushes queued records and stamps the session's end time. Call it
// after the loop has stopped.
func (r *Recorder) Close(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()

	r.logger.Info("recording closed", "dropped", r.dropped.Load(), "failed", r.failed.Load())
	return r.store.End(ctx, r.session.ID, at)
}

// Dropped returns how many records were dropped on a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}
