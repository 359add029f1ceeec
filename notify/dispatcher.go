package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DispatcherOptions tunes delivery.
type DispatcherOptions struct {
	QueueSize  int           // default 256
	MaxRetries int           // retries after the first attempt; 0 means 3, negative means none
	Backoff    time.Duration // fixed wait between attempts; default 60s
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 60 * time.Second
	}
	return o
}

// Dispatcher queues messages and delivers them from one worker goroutine.
// Enqueue never blocks the caller; a message that still fails after
// MaxRetries retries is logged and dropped.
type Dispatcher struct {
	sender Sender
	opts   DispatcherOptions
	logger *zap.Logger

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		opts:   opts,
		logger: logger,
		queue:  make(chan string, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules text for delivery. It returns false when the queue is
// full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(text string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- text:
		return true
	default:
		d.logger.Warn("notification queue full, message dropped")
		return false
	}
}

// Close stops accepting messages and waits for the queue to drain. When ctx
// ends first, pending retries are abandoned and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for text := range d.queue {
		d.deliver(text)
	}
}

func (d *Dispatcher) deliver(text string) {
	for attempt := 0; ; attempt++ {
		err := d.sender.Send(d.ctx, text)
		if err == nil {
			return
		}
		if errors.Is(err, ErrNotConfigured) {
			d.logger.Debug("notification skipped: sender not configured")
			return
		}
		if attempt >= d.opts.MaxRetries || d.ctx.Err() != nil {
			d.logger.Error("notification failed",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return
		}
		d.logger.Warn("notification failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", d.opts.Backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(d.opts.Backoff)
		select {
		case <-timer.C:
		case <-d.ctx.Done():
			timer.Stop()
			return
		}
	}
}
