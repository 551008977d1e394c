package main

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	repoRootOnce sync.Once
	repoRoot     string
)

// projectRoot 基于本文件位置向上查找 go.mod，定位仓库根目录。
func projectRoot(t *testing.T) string {
	t.Helper()

	repoRootOnce.Do(func() {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			return
		}
		dir := filepath.Dir(file)
		for {
			if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
				repoRoot = dir
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	})

	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

// configFixture 返回 internal/config/testdata 下指定夹具的绝对路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}
