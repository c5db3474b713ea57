package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/common"
	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/storage/badger"
	"github.com/HTF1125/investment-x-sub000/internal/storage/sqlite"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "", "badger":
		manager, err := badger.NewManager(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		return manager, nil
	case "sqlite":
		manager, err := sqlite.NewManager(logger, &config.Storage.SQLite)
		if err != nil {
			return nil, err
		}
		return manager, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'sqlite')", config.Storage.Type)
	}
}
