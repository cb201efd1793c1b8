package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage persists session blobs by key.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
}

// RedisStorage keeps blobs under a per-client namespace.
type RedisStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStorage builds a storage writing to "<namespace>:<key>". A zero
// ttl keeps blobs until removed.
func NewRedisStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, namespace: namespace, ttl: ttl}
}

// Load implements Storage.
func (s *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("auth: load blob: %w", err)
	}
	return data, nil
}

// Save implements Storage.
func (s *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("auth: save blob: %w", err)
	}
	return nil
}

// Remove implements Storage. Removing an absent key is not an error.
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("auth: remove blob: %w", err)
	}
	return nil
}

func (s *RedisStorage) redisKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// FileStorage keeps one file per key in a directory.
type FileStorage struct {
	dir string
}

// NewFileStorage returns a storage rooted at dir. The directory is created
// on first write.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Load implements Storage.
func (s *FileStorage) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("auth: load blob: %w", err)
	}
	return data, nil
}

// Save implements Storage. The file is replaced by rename so readers never
// see a partial blob.
func (s *FileStorage) Save(_ context.Context, key string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("auth: save blob: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("auth: save blob: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("auth: save blob: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("auth: save blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: save blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("auth: save blob: %w", err)
	}
	return nil
}

// Remove implements Storage.
func (s *FileStorage) Remove(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("auth: remove blob: %w", err)
	}
	return nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
