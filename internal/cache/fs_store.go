package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := s.bucketDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}

	return &fileBucket{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) ListNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.bucketDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// bucketDir 校验桶名并拼出绝对目录，拒绝一切路径分隔符。
func (s *fileStore) bucketDir(name string) (string, error) {
	if name == "" {
		return "", errors.New("bucket name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid bucket name: %s", name)
	}
	return filepath.Join(s.basePath, name), nil
}

// fileBucket 将每条快照拆成 .meta / .body 两个文件，文件名取 key 的 sha1。
type fileBucket struct {
	store *fileStore
	name  string
	dir   string
}

// entryMeta 是 .meta 文件的 JSON 结构。
type entryMeta struct {
	Key       Key                 `json:"key"`
	Status    int                 `json:"status"`
	Header    map[string][]string `json:"header"`
	FetchedAt time.Time           `json:"fetched_at"`
}

func (b *fileBucket) Name() string {
	return b.name
}

func (b *fileBucket) Put(ctx context.Context, key Key, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := b.store.lockEntry(b.name, key)
	defer unlock()

	base := b.entryBase(key)

	meta := entryMeta{
		Key:       key,
		Status:    snap.Status,
		Header:    snap.Header,
		FetchedAt: snap.FetchedAt,
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	if err := writeAtomic(b.dir, base+".body", snap.Body); err != nil {
		return err
	}
	if err := writeAtomic(b.dir, base+".meta", encoded); err != nil {
		os.Remove(filepath.Join(b.dir, base+".body"))
		return err
	}
	return nil
}

func (b *fileBucket) Match(ctx context.Context, key Key) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := b.entryBase(key)

	raw, err := os.ReadFile(filepath.Join(b.dir, base+".meta"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	// sha1 碰撞之外，meta 里的 key 必须与请求完全一致。
	if meta.Key != key {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filepath.Join(b.dir, base+".body"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Snapshot{
		Status:    meta.Status,
		Header:    meta.Header,
		Body:      body,
		FetchedAt: meta.FetchedAt,
	}, nil
}

func (b *fileBucket) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []Key
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var meta entryMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode meta %s: %w", entry.Name(), err)
		}
		keys = append(keys, meta.Key)
	}
	return keys, nil
}

// entryBase 返回条目文件名的公共前缀（sha1(method+url) 的十六进制）。
func (b *fileBucket) entryBase(key Key) string {
	sum := sha1.Sum([]byte(key.Method + " " + key.URL))
	return hex.EncodeToString(sum[:])
}

// writeAtomic 经由临时文件 + rename 落盘，失败时清理临时文件。
func writeAtomic(dir, name string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filepath.Join(dir, name)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(bucket string, key Key) func() {
	lockKey := bucket + "::" + key.Method + " " + key.URL
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}
