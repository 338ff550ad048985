package dv

// DefaultBatchSize is the deferred write threshold used when none is
// configured.
const DefaultBatchSize = 200

// Batch buffers deferred items. Add reports when the buffer reached its
// threshold; the owner decides when to flush. Batch is not safe for
// concurrent use.
type Batch[T any] struct {
	threshold int
	items     []T
}

// NewBatch creates a batch flushing at threshold items. Non-positive
// thresholds fall back to DefaultBatchSize.
func NewBatch[T any](threshold int) *Batch[T] {
	if threshold <= 0 {
		threshold = DefaultBatchSize
	}
	return &Batch[T]{threshold: threshold, items: make([]T, 0, threshold)}
}

// Add appends item and reports whether the batch should be flushed now.
func (b *Batch[T]) Add(item T) bool {
	b.items = append(b.items, item)
	return len(b.items) >= b.threshold
}

// Len returns the number of buffered items.
func (b *Batch[T]) Len() int { return len(b.items) }

// Drain returns the buffered items and empties the batch.
func (b *Batch[T]) Drain() []T {
	items := b.items
	b.items = make([]T, 0, b.threshold)
	return items
}
