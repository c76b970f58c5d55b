package commitstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/devrev/pairdb/retention-node/internal/errors"
	"github.com/devrev/pairdb/retention-node/internal/util"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	commitFilePrefix = "commit-"
	commitFileSuffix = ".json"
)

// FileStore keeps one checksummed JSON file per commit generation
type FileStore struct {
	config     *Config
	logger     *zap.Logger
	mu         sync.Mutex
	dir        string
	generation int64
}

// NewFileStore opens or creates a file commit store in cfg.Dir
func NewFileStore(cfg *Config, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create commit directory: %w", err)
	}

	fs := &FileStore{
		config: cfg,
		logger: logger,
		dir:    cfg.Dir,
	}

	generations, err := fs.generations()
	if err != nil {
		return nil, err
	}
	if len(generations) > 0 {
		fs.generation = generations[len(generations)-1]
	}

	logger.Info("Opened file commit store",
		zap.String("dir", cfg.Dir),
		zap.Int64("generation", fs.generation))

	return fs, nil
}

// Commit implements Store
func (s *FileStore) Commit(ctx context.Context, userData map[string][]byte) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	commit := newCommit(s.generation+1, userData)
	data, err := json.Marshal(commit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal commit: %w", err)
	}
	data = util.AppendChecksum(data)

	// Write to a temp file, then rename into place
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s%d.tmp", commitFilePrefix, commit.Generation))
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write commit file: %w", err)
	}
	if s.config.SyncWrites {
		if err := file.Sync(); err != nil {
			file.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to sync commit file: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close commit file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(commit.Generation)); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to publish commit file: %w", err)
	}

	s.generation = commit.Generation
	s.prune()

	s.logger.Debug("Wrote commit",
		zap.Int64("generation", commit.Generation),
		zap.Int("bytes", len(data)))

	return commit, nil
}

// LastCommit implements Store
func (s *FileStore) LastCommit(ctx context.Context) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == 0 {
		return nil, nil
	}

	path := s.path(s.generation)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit file: %w", err)
	}

	data, valid := util.ValidateAndStripChecksum(raw)
	if !valid {
		return nil, errors.CorruptMetadata(fmt.Sprintf("checksum mismatch in commit file %s", path), nil).
			WithDetail("generation", s.generation)
	}

	var commit Commit
	if err := json.Unmarshal(data, &commit); err != nil {
		return nil, errors.CorruptMetadata(fmt.Sprintf("failed to parse commit file %s", path), err).
			WithDetail("generation", s.generation)
	}
	if commit.UserData == nil {
		commit.UserData = map[string][]byte{}
	}
	return &commit, nil
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

// prune removes all but the newest KeepCommits generations. Must hold mu.
func (s *FileStore) prune() {
	generations, err := s.generations()
	if err != nil {
		s.logger.Warn("Failed to list commits for pruning", zap.Error(err))
		return
	}
	for len(generations) > s.config.KeepCommits {
		if err := os.Remove(s.path(generations[0])); err != nil {
			s.logger.Warn("Failed to prune commit",
				zap.Int64("generation", generations[0]),
				zap.Error(err))
		}
		generations = generations[1:]
	}
}

func (s *FileStore) generations() ([]int64, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, commitFilePrefix+"*"+commitFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list commit files: %w", err)
	}

	generations := make([]int64, 0, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), commitFilePrefix), commitFileSuffix)
		gen, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			s.logger.Warn("Ignoring unexpected file in commit directory", zap.String("file", f))
			continue
		}
		generations = append(generations, gen)
	}
	sort.Slice(generations, func(i, j int) bool { return generations[i] < generations[j] })
	return generations, nil
}

func (s *FileStore) path(generation int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", commitFilePrefix, generation, commitFileSuffix))
}
