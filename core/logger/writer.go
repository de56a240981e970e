package logger

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

const writerQueueLen = 256

// writeOp is either a log line or, when ack is set, a flush barrier.
type writeOp struct {
	line []byte
	ack  chan error
}

// asyncWriter moves log I/O off the request path. One goroutine owns the
// buffered sink; callers only enqueue.
type asyncWriter struct {
	ops       chan writeOp
	done      chan struct{}
	closeOnce sync.Once
	out       *bufio.Writer
	err       atomic.Pointer[error]
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			sinks = append(sinks, w)
		}
	}
	w := &asyncWriter{
		ops:  make(chan writeOp, writerQueueLen),
		done: make(chan struct{}),
		out:  bufio.NewWriterSize(io.MultiWriter(sinks...), bufSize),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.ack != nil {
			op.ack <- w.out.Flush()
			continue
		}
		if _, err := w.out.Write(op.line); err != nil {
			w.fail(err)
			continue
		}
		// Flush when the queue is idle so lines reach the sink promptly.
		if len(w.ops) == 0 {
			if err := w.out.Flush(); err != nil {
				w.fail(err)
			}
		}
	}
	if err := w.out.Flush(); err != nil {
		w.fail(err)
	}
}

// Write copies p and queues it. A full queue blocks rather than dropping lines.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.ops <- writeOp{line: append([]byte(nil), p...)}
	return nil
}

// Flush returns once every line queued before it has been written out.
func (w *asyncWriter) Flush() error {
	if err := w.firstErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.ops <- writeOp{ack: ack}
	return <-ack
}

// Close drains the queue and reports the first write error.
func (w *asyncWriter) Close() error {
	w.closeOnce.Do(func() { close(w.ops) })
	<-w.done
	return w.firstErr()
}

func (w *asyncWriter) fail(err error) {
	w.err.CompareAndSwap(nil, &err)
}

func (w *asyncWriter) firstErr() error {
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}
