package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/HTF1125/investment-x-sub000/internal/common"
)

// gcDiscardRatio is the share of stale data a value log file needs before rewrite
const gcDiscardRatio = 0.5

// BadgerDB is the badgerhold store holding charts and cached series.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig

	gcStop chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// storeOptions returns badgerhold options rooted at dir, encoding values as msgpack.
func storeOptions(dir string) badgerhold.Options {
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil // Disable default badger logger to use arbor
	options.Encoder = msgpackEncode
	options.Decoder = msgpackDecode
	return options
}

func msgpackEncode(value interface{}) ([]byte, error) {
	return msgpack.Marshal(value)
}

func msgpackDecode(data []byte, value interface{}) error {
	return msgpack.Unmarshal(data, value)
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	// If reset_on_startup is enabled, delete the existing database
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	store, err := badgerhold.Open(storeOptions(config.Path))
	if err != nil {
		logger.Error().Err(err).Str("path", config.Path).Msg("BadgerDB: Failed to open database")
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Badger returns the raw badger handle for TTL entries badgerhold does not expose
func (b *BadgerDB) Badger() *badger.DB {
	return b.store.Badger()
}

// StartGC reclaims value log space every interval until Close. Expired
// series cache entries only free disk through this.
func (b *BadgerDB) StartGC(interval time.Duration) {
	if interval <= 0 || b.gcStop != nil {
		return
	}
	b.gcStop = make(chan struct{})
	b.gcDone = make(chan struct{})

	go func() {
		defer close(b.gcDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.gcStop:
				return
			case <-ticker.C:
				b.runGC()
			}
		}
	}()
}

// runGC rewrites value log files until badger reports nothing left to collect.
func (b *BadgerDB) runGC() {
	rewritten := 0
	for {
		err := b.Badger().RunValueLogGC(gcDiscardRatio)
		if err == nil {
			rewritten++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			b.logger.Warn().Err(err).Msg("Badger value log GC failed")
		}
		break
	}
	if rewritten > 0 {
		b.logger.Debug().Int("files", rewritten).Msg("Badger value log GC rewrote files")
	}
}

// Close stops GC and closes the store
func (b *BadgerDB) Close() error {
	var err error
	b.once.Do(func() {
		if b.gcStop != nil {
			close(b.gcStop)
			<-b.gcDone
		}
		if b.store != nil {
			err = b.store.Close()
		}
	})
	return err
}
