package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// 所有文档键共享 d: 前缀，给未来的索引/元数据键留出命名空间。
const docKeyPrefix = "d:"

// Open 打开（或创建）指定目录下的 goleveldb 文档库。
func Open(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("docstore path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	return &levelStore{db: db}, nil
}

type levelStore struct {
	db *leveldb.DB
}

func (s *levelStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := normalizePath(path, false)
	if err != nil {
		return nil, err
	}

	value, err := s.db.Get([]byte(docKeyPrefix+normalized), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrDocNotFound
		}
		return nil, err
	}
	return json.RawMessage(append([]byte(nil), value...)), nil
}

func (s *levelStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := normalizePath(path, false)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("invalid JSON document for %s", path)
	}
	return s.db.Put([]byte(docKeyPrefix+normalized), value, nil)
}

func (s *levelStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := normalizePath(path, false)
	if err != nil {
		return err
	}
	return s.db.Delete([]byte(docKeyPrefix+normalized), nil)
}

func (s *levelStore) ListChildren(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := normalizePath(path, true)
	if err != nil {
		return nil, err
	}

	prefix := docKeyPrefix
	if normalized != "" {
		prefix += normalized + "/"
	}

	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	seen := map[string]struct{}{}
	for it.Next() {
		rest := strings.TrimPrefix(string(it.Key()), prefix)
		if rest == "" {
			continue
		}
		segment, _, _ := strings.Cut(rest, "/")
		seen[segment] = struct{}{}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	if len(seen) == 0 {
		return nil, nil
	}
	children := make([]string, 0, len(seen))
	for segment := range seen {
		children = append(children, segment)
	}
	sort.Strings(children)
	return children, nil
}

func (s *levelStore) Close() error {
	return s.db.Close()
}
