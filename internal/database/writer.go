package database

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Writer is the lifecycle shared by the batched database writers.
type Writer[T any] interface {
	// Start begins processing and writing records
	Start()

	// Write queues a record; it never blocks and drops when the queue is full
	Write(v T)

	// Close flushes what is queued and releases resources
	Close() error
}

// FlushFunc writes one batch.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// flushTimeout bounds the final flush on Close.
const flushTimeout = 5 * time.Second

// Batcher queues records and hands them to a FlushFunc when the batch is
// full or the flush interval elapses.
type Batcher[T any] struct {
	name     string
	size     int
	interval time.Duration
	flush    FlushFunc[T]
	logger   *slog.Logger

	ch      chan T
	done    chan struct{}
	stopped chan struct{}
	mu      sync.RWMutex
	closed  bool
	started bool
	dropped atomic.Uint64
}

// NewBatcher creates a batcher. size below 1 is treated as 1.
func NewBatcher[T any](name string, size int, interval time.Duration, flush FlushFunc[T], logger *slog.Logger) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	return &Batcher[T]{
		name:     name,
		size:     size,
		interval: interval,
		flush:    flush,
		logger:   logger.With("writer", name),
		ch:       make(chan T, size*2),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the write loop.
func (b *Batcher[T]) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	go b.loop()
}

func (b *Batcher[T]) loop() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]T, 0, b.size)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := b.flush(ctx, batch); err != nil {
			b.logger.Error("flush failed", "records", len(batch), "error", err)
		} else {
			b.logger.Debug("flushed", "records", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case v := <-b.ch:
			batch = append(batch, v)
			if len(batch) >= b.size {
				send(ctx)
			}
		case <-ticker.C:
			send(ctx)
		case <-b.done:
		drain:
			for {
				select {
				case v := <-b.ch:
					batch = append(batch, v)
				default:
					break drain
				}
			}
			fctx, fcancel := context.WithTimeout(context.Background(), flushTimeout)
			send(fctx)
			fcancel()
			return
		}
	}
}

// Write queues v.
func (b *Batcher[T]) Write(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- v:
	default:
		if b.dropped.Add(1) == 1 {
			b.logger.Warn("batch queue full, dropping records")
		}
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (b *Batcher[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the loop after a final flush. It is safe to call more than once.
func (b *Batcher[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	close(b.done)
	b.mu.Unlock()

	if started {
		<-b.stopped
	}
	return nil
}
