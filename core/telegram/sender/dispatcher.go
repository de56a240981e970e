// Package sender runs outbound Telegram calls off the update goroutine.
//
// Jobs are spread over lanes keyed by the user in the job context, so replies
// to one user leave in the order they were enqueued while different users
// proceed in parallel.
package sender

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/betbot/core/logger"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when the job's lane has no free slot.
	ErrQueueFull = errors.New("telegram sender: queue full")

	errNilRun = errors.New("telegram sender: nil run function")
)

const platform = "telegram"

// Options tunes a Dispatcher. Zero values pick the defaults noted per field.
type Options struct {
	// QueueSize is the total buffered job count shared across lanes. Default 256.
	QueueSize int
	// Workers is the number of lanes. Default 4.
	Workers int
	// MaxRetries bounds extra attempts for transient errors.
	MaxRetries int
	// RetryBackoff grows linearly per attempt. Default 2s.
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on one job including retries. Default 12s.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes outbound calls asynchronously with bounded retries.
type Dispatcher struct {
	opts  Options
	lanes []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	next atomic.Uint32
	errs atomic.Uint64
}

// NewDispatcher starts the lane workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	depth := max(opts.QueueSize/opts.Workers, 1)

	d := &Dispatcher{opts: opts, lanes: make([]chan job, opts.Workers)}
	d.wg.Add(len(d.lanes))
	for i := range d.lanes {
		lane := make(chan job, depth)
		d.lanes[i] = lane
		go func() {
			defer d.wg.Done()
			for j := range lane {
				d.execute(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without blocking. run may be called more than once
// when the failure looks transient.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.lanes[d.laneFor(ctx)] <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) laneFor(ctx context.Context) int {
	n := uint32(len(d.lanes))
	if user := logger.UserIDFrom(ctx); user != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(user))
		return int(h.Sum32() % n)
	}
	return int(d.next.Add(1) % n)
}

// ErrorCount returns how many jobs ultimately failed.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close rejects new jobs and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
