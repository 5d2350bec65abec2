// Package storage provides file-based JSON storage for small documents
// such as provider enablement.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage provides file-based JSON storage. Writes are atomic (temp file +
// rename) and serialized across processes with flock.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Storage) pathToFile(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

// Get retrieves a value from storage.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	return s.read(s.pathToFile(path), v)
}

func (s *Storage) read(filePath string, v any) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Put stores a value in storage.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	filePath := s.pathToFile(path)
	return s.withLock(filePath, func() error {
		return s.write(filePath, v)
	})
}

// Update reads the value at path into v (leaving v untouched when absent),
// calls fn and writes v back, all under the file lock.
func (s *Storage) Update(ctx context.Context, path []string, v any, fn func() error) error {
	filePath := s.pathToFile(path)
	return s.withLock(filePath, func() error {
		if err := s.read(filePath, v); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return s.write(filePath, v)
	})
}

func (s *Storage) write(filePath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Delete removes a value from storage.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	filePath := s.pathToFile(path)
	return s.withLock(filePath, func() error {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		return nil
	})
}

// withLock runs fn holding both the in-process mutex and an flock on
// <file>.lock. The directory is created if needed.
func (s *Storage) withLock(filePath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	mu := s.mutexFor(filePath)
	mu.Lock()
	defer mu.Unlock()

	lockFile, err := os.OpenFile(filePath+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
	}()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return fn()
}

func (s *Storage) mutexFor(filePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.locks[filePath]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[filePath] = mu
	}
	return mu
}
