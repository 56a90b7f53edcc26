package database

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	flushed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{flushed: make(chan struct{}, 16)}
}

func (r *recorder) flush(_ context.Context, batch []int) error {
	r.mu.Lock()
	r.batches = append(r.batches, append([]int(nil), batch...))
	r.mu.Unlock()
	r.flushed <- struct{}{}
	return nil
}

func (r *recorder) all() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBatcher_FlushesWhenFull(t *testing.T) {
	rec := newRecorder()
	b := NewBatcher[int]("test", 3, time.Hour, rec.flush, discard)
	b.Start()
	defer b.Close()

	for i := 1; i <= 3; i++ {
		b.Write(i)
	}

	select {
	case <-rec.flushed:
	case <-time.After(time.Second):
		t.Fatal("no flush")
	}
	assert.Equal(t, [][]int{{1, 2, 3}}, rec.all())
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	rec := newRecorder()
	b := NewBatcher[int]("test", 100, 10*time.Millisecond, rec.flush, discard)
	b.Start()
	defer b.Close()

	b.Write(7)
	select {
	case <-rec.flushed:
	case <-time.After(time.Second):
		t.Fatal("no flush")
	}
	assert.Equal(t, [][]int{{7}}, rec.all())
}

func TestBatcher_CloseFlushesRemainder(t *testing.T) {
	rec := newRecorder()
	b := NewBatcher[int]("test", 100, time.Hour, rec.flush, discard)
	b.Start()

	b.Write(1)
	b.Write(2)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, [][]int{{1, 2}}, rec.all())

	b.Write(3)
	assert.Len(t, rec.all(), 1, "writes after close are ignored")
}

func TestBatcher_DropsWhenQueueFull(t *testing.T) {
	rec := newRecorder()
	b := NewBatcher[int]("test", 1, time.Hour, rec.flush, discard)

	// not started: the queue holds size*2 records
	for i := 0; i < 5; i++ {
		b.Write(i)
	}
	assert.Equal(t, uint64(3), b.Dropped())
	require.NoError(t, b.Close())
	assert.Empty(t, rec.all())
}
