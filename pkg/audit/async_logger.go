package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ErrLoggerClosed is returned by Log after Close
var ErrLoggerClosed = errors.New("audit logger closed")

// DefaultBufferSize is the queue length used when none is given
const DefaultBufferSize = 1024

// AsyncLogger is a fire-and-forget audit sink. Events are queued on a bounded
// channel and written by a single worker. When the queue is full the event is
// dropped and counted; callers never block on the sink.
type AsyncLogger struct {
	next    Logger
	events  chan *Event
	dropped prometheus.Counter
	log     *observability.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncLogger starts the worker draining into next. dropped may be nil.
func NewAsyncLogger(next Logger, bufferSize int, dropped prometheus.Counter, log *observability.Logger) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = observability.NopLogger()
	}

	l := &AsyncLogger{
		next:    next,
		events:  make(chan *Event, bufferSize),
		dropped: dropped,
		log:     log,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	defer observability.RecoverPanic(l.log, "audit worker")

	for event := range l.events {
		// Request contexts are gone by now
		if err := l.next.Log(context.Background(), event); err != nil {
			l.log.WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to write audit event")
		}
	}
}

// Log enqueues the event without blocking
func (l *AsyncLogger) Log(ctx context.Context, event *Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLoggerClosed
	}

	select {
	case l.events <- event:
	default:
		if l.dropped != nil {
			l.dropped.Inc()
		}
	}
	return nil
}

// Close stops accepting events, drains the queue and closes the wrapped logger
func (l *AsyncLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	return l.next.Close()
}
