package indexer

import (
	"fmt"

	"docvault/internal/config"
)

// NewQueueFromConfig creates the Queue selected by the indexer config.
func NewQueueFromConfig(cfg config.IndexerConfig) (Queue, error) {
	switch cfg.Queue {
	case "", "memory":
		return NewMemoryQueue(DefaultQueueCapacity), nil
	case "badger":
		if cfg.QueueDir == "" {
			return nil, fmt.Errorf("badger queue requires queue_dir to be set")
		}
		return NewBadgerQueue(cfg.QueueDir)
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Queue)
	}
}
