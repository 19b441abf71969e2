package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// asyncWriter moves formatted lines off the logging goroutines. A single loop
// owns the sinks: it writes every queued line and flushes once the queue runs
// dry. Write blocks while the queue is full; lines are never dropped.
type asyncWriter struct {
	lines  chan []byte
	flush  chan chan error
	closed chan struct{}
	sinks  []*bufio.Writer

	mu       sync.RWMutex
	shutdown bool
	firstErr atomic.Pointer[error]
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		lines:  make(chan []byte, 256),
		flush:  make(chan chan error),
		closed: make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.closed)
	for {
		select {
		case line, ok := <-w.lines:
			open := ok
			if ok {
				w.record(w.writeSinks(line))
				open = w.writePending()
			}
			w.record(w.flushSinks())
			if !open {
				return
			}
		case ack := <-w.flush:
			ack <- w.flushSinks()
		}
	}
}

// writePending writes the lines already queued without waiting for more.
// It reports false once the queue is closed.
func (w *asyncWriter) writePending() bool {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return false
			}
			w.record(w.writeSinks(line))
		default:
			return true
		}
	}
}

// Write queues a copy of p. After Close it is a no-op.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.shutdown {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush waits until every sink has been flushed.
func (w *asyncWriter) Flush() error {
	if err := w.err(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	select {
	case w.flush <- ack:
		return <-ack
	case <-w.closed:
		return w.err()
	}
}

// Close writes out the queue, stops the loop and returns the first sink error.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.shutdown {
		w.shutdown = true
		close(w.lines)
	}
	w.mu.Unlock()
	<-w.closed
	return w.err()
}

func (w *asyncWriter) writeSinks(p []byte) error {
	for _, sink := range w.sinks {
		if _, err := sink.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushSinks() error {
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) record(err error) {
	if err != nil {
		w.firstErr.CompareAndSwap(nil, &err)
	}
}

func (w *asyncWriter) err() error {
	if p := w.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}
