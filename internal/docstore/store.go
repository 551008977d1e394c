package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store 暴露按路径寻址的文档读写能力，路径形如 shell/manifest、
// shell/events/<id>，分段以 / 连接。
type Store interface {
	// Read 返回指定路径的文档，不存在时返回 ErrDocNotFound。
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Write 覆盖写入指定路径的文档。
	Write(ctx context.Context, path string, value json.RawMessage) error

	// Delete 删除指定路径的文档，不存在不视为错误。
	Delete(ctx context.Context, path string) error

	// ListChildren 返回路径下一级的全部子段名，按字典序排序。
	ListChildren(ctx context.Context, path string) ([]string, error)

	// Close 释放底层数据库句柄。
	Close() error
}

// ErrDocNotFound 表示目标路径不存在文档。
var ErrDocNotFound = errors.New("document not found")

// normalizePath 去除首尾斜杠并校验分段，空路径仅在 ListChildren 根查询时合法。
func normalizePath(path string, allowEmpty bool) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		if allowEmpty {
			return "", nil
		}
		return "", errors.New("document path required")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" {
			return "", fmt.Errorf("invalid document path: %s", path)
		}
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid document path segment: %s", segment)
		}
	}
	return trimmed, nil
}
