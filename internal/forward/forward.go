// Package forward ships event records into the downstream analytics queue.
// It is optional: without a Redis address the fleet runs sink-only. The JSON
// line stream remains the source of truth; enqueue failures are dropped.
package forward

import (
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/event"
)

// TaskEventIngest is the task type consumed by the analytics pipeline.
const TaskEventIngest = "event:ingest"

// queueDepth bounds records waiting on Redis I/O. The tap never blocks a
// session; when the queue is full the record is dropped.
const queueDepth = 1024

// Forwarder enqueues event records as asynq tasks.
type Forwarder struct {
	client *asynq.Client
	log    zerolog.Logger
	queue  chan []byte
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a forwarder against redisAddr.
func New(redisAddr string, log zerolog.Logger) *Forwarder {
	f := &Forwarder{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		log:    log,
		queue:  make(chan []byte, queueDepth),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Tap returns the sink tap feeding this forwarder.
func (f *Forwarder) Tap() event.Tap {
	return func(r event.Record) {
		payload, err := json.Marshal(r)
		if err != nil {
			return
		}
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.closed {
			return
		}
		select {
		case f.queue <- payload:
		default:
			f.log.Debug().Msg("forward queue full, dropping event")
		}
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for payload := range f.queue {
		task := asynq.NewTask(TaskEventIngest, payload)
		if _, err := f.client.Enqueue(task, asynq.Queue("events"), asynq.MaxRetry(3)); err != nil {
			f.log.Warn().Err(err).Msg("event enqueue failed")
		}
	}
}

// Close drains the queue and releases the Redis connection.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.done
	return f.client.Close()
}
