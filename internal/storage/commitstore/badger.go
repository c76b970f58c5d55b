package commitstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	badgerCommitPrefix = []byte("commit/")
	badgerLatestKey    = []byte("meta/latest_generation")
)

// BadgerStore keeps commits in an embedded badger database
type BadgerStore struct {
	config *Config
	db     *badger.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewBadgerStore opens or creates a badger commit store in cfg.Dir
func NewBadgerStore(cfg *Config, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger commit store: %w", err)
	}

	logger.Info("Opened badger commit store", zap.String("dir", cfg.Dir))

	return &BadgerStore{
		config: cfg,
		db:     db,
		logger: logger,
	}, nil
}

// Commit implements Store
func (s *BadgerStore) Commit(ctx context.Context, userData map[string][]byte) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var commit *Commit
	err := s.db.Update(func(txn *badger.Txn) error {
		latest, err := latestGeneration(txn)
		if err != nil {
			return err
		}

		commit = newCommit(latest+1, userData)
		data, err := json.Marshal(commit)
		if err != nil {
			return fmt.Errorf("failed to marshal commit: %w", err)
		}

		if err := txn.Set(commitKey(commit.Generation), data); err != nil {
			return err
		}
		if err := txn.Set(badgerLatestKey, []byte(strconv.FormatInt(commit.Generation, 10))); err != nil {
			return err
		}

		if stale := commit.Generation - int64(s.config.KeepCommits); stale > 0 {
			if err := txn.Delete(commitKey(stale)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write commit: %w", err)
	}

	s.logger.Debug("Wrote commit", zap.Int64("generation", commit.Generation))
	return commit, nil
}

// LastCommit implements Store
func (s *BadgerStore) LastCommit(ctx context.Context) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var commit *Commit
	err := s.db.View(func(txn *badger.Txn) error {
		latest, err := latestGeneration(txn)
		if err != nil || latest == 0 {
			return err
		}

		item, err := txn.Get(commitKey(latest))
		if err != nil {
			return errors.CorruptMetadata(fmt.Sprintf("commit generation %d is missing", latest), err)
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var c Commit
		if err := json.Unmarshal(data, &c); err != nil {
			return errors.CorruptMetadata(fmt.Sprintf("failed to parse commit generation %d", latest), err)
		}
		if c.UserData == nil {
			c.UserData = map[string][]byte{}
		}
		commit = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func latestGeneration(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(badgerLatestKey)
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errors.CorruptMetadata("invalid latest commit generation", err)
	}
	return gen, nil
}

func commitKey(generation int64) []byte {
	return append(append([]byte(nil), badgerCommitPrefix...), fmt.Sprintf("%020d", generation)...)
}
