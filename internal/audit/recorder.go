package audit

import (
	"context"
	"log/slog"
	"time"

	"call-signaling/internal/calls"
	"call-signaling/internal/metrics"
)

const (
	defaultRecorderQueue = 1024
	maxBatch             = 64
	writeTimeout         = 5 * time.Second
)

// Recorder turns session transitions into audit events on its own goroutine.
// RecordTransition never blocks; a full queue drops the transition.
type Recorder struct {
	svc   *Service
	log   *slog.Logger
	queue chan calls.Transition
}

func NewRecorder(svc *Service, log *slog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultRecorderQueue
	}
	return &Recorder{
		svc:   svc,
		log:   log.With("component", "audit_recorder"),
		queue: make(chan calls.Transition, queueSize),
	}
}

func (r *Recorder) RecordTransition(t calls.Transition) {
	select {
	case r.queue <- t:
	default:
		metrics.RecordQueueDropped("audit_recorder")
		r.log.Warn("call event dropped", "call_id", t.Session.ID, "status", string(t.To))
	}
}

// Run writes queued transitions in small batches until ctx is cancelled, then
// flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			r.drain(flushCtx)
			cancel()
			return nil
		case t := <-r.queue:
			batch := r.collect(t)
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			r.write(wctx, batch)
			cancel()
		}
	}
}

func (r *Recorder) collect(first calls.Transition) []Event {
	batch := make([]Event, 0, maxBatch)
	if e, ok := FromTransition(first); ok {
		batch = append(batch, e)
	}
	for len(batch) < maxBatch {
		select {
		case t := <-r.queue:
			if e, ok := FromTransition(t); ok {
				batch = append(batch, e)
			}
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case t := <-r.queue:
			r.write(ctx, r.collect(t))
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, batch []Event) {
	if len(batch) == 0 {
		return
	}
	if err := r.svc.Append(ctx, batch...); err != nil {
		r.log.Error("call events not recorded", "count", len(batch), "err", err)
	}
}
