package audit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Recorder fans decision records out to its sinks asynchronously. Submit
// never blocks: when the buffer is full the record is dropped and counted.
type Recorder struct {
	sinks   []Sink
	logger  *zap.Logger
	dropped prometheus.Counter

	ch   chan Entry
	wg   sync.WaitGroup
	once sync.Once
}

// NewRecorder starts a recorder draining into the given sinks. dropped may be
// nil. Close flushes the buffer and stops the drain goroutine.
func NewRecorder(sinks []Sink, buffer int, logger *zap.Logger, dropped prometheus.Counter) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	r := &Recorder{
		sinks:   sinks,
		logger:  logger,
		dropped: dropped,
		ch:      make(chan Entry, buffer),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Submit queues a record for delivery. Fire-and-forget: a full buffer drops
// the record rather than delaying the caller.
func (r *Recorder) Submit(e Entry) {
	select {
	case r.ch <- e:
	default:
		if r.dropped != nil {
			r.dropped.Inc()
		}
		r.logger.Warn("audit buffer full, dropping record",
			zap.String("principal_id", e.PrincipalID),
			zap.String("decision", e.Decision))
	}
}

// Close stops intake, drains queued records, and waits for delivery.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.ch) })
	r.wg.Wait()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for e := range r.ch {
		// The request that produced the record is long gone; deliveries get
		// their own bounded context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, sink := range r.sinks {
			if err := sink.Record(ctx, e); err != nil {
				r.logger.Error("audit sink failed", zap.Error(err))
			}
		}
		cancel()
	}
}
