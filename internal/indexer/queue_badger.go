package indexer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var queuePrefix = []byte("q:")

// BadgerQueue is a durable Queue kept in a BadgerDB directory. Messages
// survive a crash of the producer, but a message is deleted when it is
// popped, so one a crashed worker was holding is lost. Runs purge the queue
// before they start.
type BadgerQueue struct {
	*workQueue
}

// NewBadgerQueue opens (or creates) the queue stored in dir.
func NewBadgerQueue(dir string) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	return openBadgerQueue(opts)
}

// NewInMemoryBadgerQueue runs the Badger queue without touching disk.
func NewInMemoryBadgerQueue() (*BadgerQueue, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	return openBadgerQueue(opts)
}

func openBadgerQueue(opts badger.Options) (*BadgerQueue, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue at %s: %w", opts.Dir, err)
	}
	store := &badgerStore{db: db}
	if err := store.load(); err != nil {
		db.Close()
		return nil, err
	}
	return &BadgerQueue{workQueue: newWorkQueue(store, 0)}, nil
}

type badgerStore struct {
	db    *badger.DB
	next  uint64
	count int
}

func queueKey(seq uint64) []byte {
	key := make([]byte, len(queuePrefix)+8)
	copy(key, queuePrefix)
	binary.BigEndian.PutUint64(key[len(queuePrefix):], seq)
	return key
}

// load counts the messages left by a previous process and positions the
// sequence after the last one.
func (s *badgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			s.count++
			s.next = binary.BigEndian.Uint64(key[len(queuePrefix):]) + 1
		}
		return nil
	})
}

func (s *badgerStore) Append(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(s.next), data)
	}); err != nil {
		return err
	}
	s.next++
	s.count++
	return nil
}

func (s *badgerStore) Shift() (Message, bool, error) {
	var (
		msg   Message
		found bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		it.Rewind()
		if !it.Valid() {
			it.Close()
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		data, err := item.ValueCopy(nil)
		it.Close()
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}
		found = true
		return txn.Delete(key)
	})
	if err != nil {
		return Message{}, false, err
	}
	if found {
		s.count--
	}
	return msg, found, nil
}

func (s *badgerStore) Len() int { return s.count }

func (s *badgerStore) Purge() error {
	if err := s.db.DropPrefix(queuePrefix); err != nil {
		return err
	}
	s.count = 0
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
