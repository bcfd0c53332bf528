// Package storage holds the blob store backends that persist component
// state between runs, and the Persister that drives them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aidispatch/internal/core"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "aidispatch:"

// FileStore keeps one JSON file per key inside a data directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if missing
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = core.DefaultDataDir
	}
	if err := os.MkdirAll(dir, core.DirPermission); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.dir, key+".json"), nil
}

// Load implements core.BlobStore
func (fs *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: key is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Save implements core.BlobStore. The blob is written to a temp file and
// renamed so readers never see a partial write.
func (fs *FileStore) Save(_ context.Context, key string, data []byte) error {
	path, err := fs.path(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, core.FilePermissionReadWrite); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Close implements core.BlobStore
func (fs *FileStore) Close() error {
	return nil
}

// Dir returns the data directory
func (fs *FileStore) Dir() string {
	return fs.dir
}

// RedisStore keeps blobs as plain Redis string values
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig Redis storage config
type RedisStoreConfig struct {
	URL    string
	Prefix string
}

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, config RedisStoreConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Load implements core.BlobStore
func (rs *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return val, nil
}

// Save implements core.BlobStore
func (rs *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return rs.client.Set(ctx, rs.prefix+key, data, 0).Err()
}

// Close implements core.BlobStore
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// Options selects a backend. Redis wins over SQLite, SQLite over files.
type Options struct {
	RedisURL   string
	SQLitePath string
	DataDir    string
}

// Open initializes the configured blob store. A Redis or SQLite backend
// that cannot be opened falls back to file storage with a warning.
func Open(ctx context.Context, opts Options, logger core.Logger) (core.BlobStore, error) {
	if logger == nil {
		logger = &core.NopLogger{}
	}

	if opts.RedisURL != "" {
		rs, err := NewRedisStore(ctx, RedisStoreConfig{URL: opts.RedisURL})
		if err == nil {
			logger.Info("Using Redis storage")
			return rs, nil
		}
		logger.Warn("Failed to initialize Redis storage: %v, falling back to file storage", err)
	} else if opts.SQLitePath != "" {
		ss, err := NewSQLiteStore(opts.SQLitePath)
		if err == nil {
			logger.Info("Using SQLite storage at %s", opts.SQLitePath)
			return ss, nil
		}
		logger.Warn("Failed to initialize SQLite storage: %v, falling back to file storage", err)
	}

	fs, err := NewFileStore(opts.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("Using file storage in %s", fs.Dir())
	return fs, nil
}

var (
	_ core.BlobStore = (*FileStore)(nil)
	_ core.BlobStore = (*RedisStore)(nil)
)
