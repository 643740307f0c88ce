package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anoa.com/threadforum/internal/metrics"
	"anoa.com/threadforum/pkg/apperror"
	"go.uber.org/zap"
)

// ContentStore holds the forest in memory. The live forest is never mutated
// in place: Mutate works on a clone and swaps it in after a successful write,
// so readers always see the last flushed state.
type ContentStore struct {
	backend Backend
	logger  *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	forest  *Forest
}

func NewContentStore(backend Backend, logger *zap.Logger) *ContentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentStore{
		backend: backend,
		logger:  logger,
		forest:  NewForest(),
	}
}

// Load replaces the in-memory forest with the backend snapshot. On failure
// the previous forest is kept.
func (s *ContentStore) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := s.backend.Read(ctx)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		s.logger.Info("no snapshot found, starting with an empty forest")
		s.swap(NewForest())
		return nil
	case errors.Is(err, apperror.ErrCorruptData):
		return err
	case err != nil:
		return fmt.Errorf("read snapshot: %v: %w", err, apperror.ErrStorageUnavailable)
	}

	forest, err := DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	s.swap(forest)
	s.logger.Info("snapshot loaded", zap.Int("forums", len(forest.Forums)), zap.Int("bytes", len(raw)))
	return nil
}

// Flush writes the current forest to the backend.
func (s *ContentStore) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	forest := s.forest.Clone()
	s.mu.RUnlock()
	return s.write(ctx, forest)
}

// Mutate applies fn to a clone of the forest and flushes it. The clone
// becomes the live forest only if both fn and the write succeed.
func (s *ContentStore) Mutate(ctx context.Context, fn func(*Forest) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := s.forest.Clone()
	s.mu.RUnlock()

	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(ctx, next); err != nil {
		s.logger.Warn("flush failed, mutation rolled back", zap.Error(err))
		return err
	}
	s.swap(next)
	return nil
}

// View runs fn against the live forest. fn must not modify or retain it.
func (s *ContentStore) View(fn func(*Forest)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.forest)
}

// Snapshot returns the encoded live forest.
func (s *ContentStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EncodeSnapshot(s.forest.Clone())
}

// Close performs the final flush at shutdown.
func (s *ContentStore) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *ContentStore) write(ctx context.Context, forest *Forest) error {
	data, err := EncodeSnapshot(forest)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	start := time.Now()
	err = s.backend.Write(ctx, data)
	metrics.ObserveFlush(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write snapshot: %v: %w", err, apperror.ErrStorageUnavailable)
	}
	return nil
}

func (s *ContentStore) swap(forest *Forest) {
	s.mu.Lock()
	s.forest = forest
	s.mu.Unlock()
}
