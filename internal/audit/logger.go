package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger records audit events asynchronously so the request path never blocks
// on the audit destination. A full buffer drops events and counts the drops;
// the request still completes.
type Logger struct {
	writer  Writer
	zlog    *zap.Logger
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewLogger creates an async audit logger over a writer.
func NewLogger(writer Writer, bufferSize int, zlog *zap.Logger) *Logger {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	l := &Logger{
		writer: writer,
		zlog:   zlog,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.events:
			if err := l.writer.Write(ev); err != nil {
				l.zlog.Error("Failed to write audit event", zap.Error(err))
			}
		case <-l.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case ev := <-l.events:
					if err := l.writer.Write(ev); err != nil {
						l.zlog.Error("Failed to write audit event", zap.Error(err))
					}
				default:
					return
				}
			}
		}
	}
}

// Log enqueues an event, filling in id and timestamp when absent.
func (l *Logger) Log(ev Event) {
	if l == nil {
		return
	}
	if ev.EventID == "" {
		ev.EventID = newEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	select {
	case l.events <- ev:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.zlog.Warn("Audit buffer full, event dropped",
			zap.String("event_type", string(ev.EventType)),
		)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (l *Logger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close stops the background writer after draining buffered events.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return l.writer.Close()
}
