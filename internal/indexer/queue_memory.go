package indexer

// DefaultQueueCapacity bounds the in-memory queue.
const DefaultQueueCapacity = 1024

// MemoryQueue is a bounded in-memory Queue. Push blocks while it is full.
type MemoryQueue struct {
	*workQueue
}

// NewMemoryQueue creates a queue holding at most capacity messages.
// Non-positive capacities fall back to DefaultQueueCapacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{workQueue: newWorkQueue(&memoryStore{}, capacity)}
}

type memoryStore struct {
	items []Message
}

func (s *memoryStore) Append(msg Message) error {
	s.items = append(s.items, msg)
	return nil
}

func (s *memoryStore) Shift() (Message, bool, error) {
	if len(s.items) == 0 {
		return Message{}, false, nil
	}
	msg := s.items[0]
	s.items[0] = Message{}
	s.items = s.items[1:]
	return msg, true, nil
}

func (s *memoryStore) Len() int { return len(s.items) }

func (s *memoryStore) Purge() error {
	s.items = nil
	return nil
}

func (s *memoryStore) Close() error { return nil }
