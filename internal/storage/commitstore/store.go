// Package commitstore persists commit points: an increasing generation plus
// a user-data map the shard fills with side data such as retention leases.
package commitstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Commit is one durable commit point
type Commit struct {
	Generation int64             `json:"generation"`
	CreatedAt  int64             `json:"created_at"`
	UserData   map[string][]byte `json:"user_data"`
}

// Store writes and reads commit points
type Store interface {
	// Commit durably writes a new commit with the next generation
	Commit(ctx context.Context, userData map[string][]byte) (*Commit, error)

	// LastCommit returns the newest commit, or nil if none was ever written
	LastCommit(ctx context.Context) (*Commit, error)

	Close() error
}

// Engine names a Store implementation
type Engine string

const (
	EngineFile   Engine = "file"
	EngineBadger Engine = "badger"
)

// Config holds commit store configuration
type Config struct {
	Engine      Engine
	Dir         string
	KeepCommits int
	SyncWrites  bool
}

// Open creates the Store selected by cfg.Engine
func Open(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg.KeepCommits <= 0 {
		cfg.KeepCommits = 2
	}
	switch cfg.Engine {
	case EngineFile, "":
		return NewFileStore(cfg, logger)
	case EngineBadger:
		return NewBadgerStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown commit store engine %q", cfg.Engine)
	}
}

func newCommit(generation int64, userData map[string][]byte) *Commit {
	data := make(map[string][]byte, len(userData))
	for k, v := range userData {
		data[k] = append([]byte(nil), v...)
	}
	return &Commit{
		Generation: generation,
		CreatedAt:  time.Now().UnixMilli(),
		UserData:   data,
	}
}
