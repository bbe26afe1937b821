package executor

import "time"

const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 500 * time.Millisecond
)

// Batcher groups lines into chunks, flushing when the pending count reaches the batch size
// or when a push arrives after the flush interval has elapsed since the last flush.
// Batcher does not own a timer: the caller arms one from Deadline and calls Flush when it fires.
// It is not goroutine-safe.
type Batcher struct {
	size     int
	interval time.Duration
	flush    func(lines []string) error
	now      func() time.Time

	pending   []string
	lastFlush time.Time
}

func NewBatcher(size int, interval time.Duration, flush func(lines []string) error) *Batcher {
	return newBatcher(size, interval, flush, time.Now)
}

func newBatcher(size int, interval time.Duration, flush func(lines []string) error, now func() time.Time) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Batcher{
		size:      size,
		interval:  interval,
		flush:     flush,
		now:       now,
		lastFlush: now(),
	}
}

// Push adds a line and flushes if either threshold is reached.
func (b *Batcher) Push(line string) error {
	b.pending = append(b.pending, line)
	if len(b.pending) >= b.size || b.now().Sub(b.lastFlush) >= b.interval {
		return b.Flush()
	}
	return nil
}

// Pending returns the number of lines waiting to be flushed.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// Deadline returns the time by which pending lines must be flushed. ok is false when nothing is pending.
func (b *Batcher) Deadline() (deadline time.Time, ok bool) {
	if len(b.pending) == 0 {
		return time.Time{}, false
	}
	return b.lastFlush.Add(b.interval), true
}

// Flush hands the pending lines to the flush func. It is a no-op when nothing is pending.
// The pending lines are dropped even if the flush func fails.
func (b *Batcher) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	lines := b.pending
	b.pending = nil
	b.lastFlush = b.now()
	return b.flush(lines)
}
