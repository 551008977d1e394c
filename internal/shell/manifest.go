package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coop-shell/coop-shell/internal/docstore"
)

// ManifestDocPath 是数据协作方里持久化清单的路径。
const ManifestDocPath = "shell/manifest"

// manifestDoc 是 shell/manifest 文档的 JSON 结构。
type manifestDoc struct {
	URLs []string `json:"urls"`
}

// ErrEmptyManifest 表示解析后的清单为空，无外壳可缓存。
var ErrEmptyManifest = errors.New("cache manifest is empty")

// ResolveManifest 优先读取文档库中的持久化清单，缺失时回退到配置内联清单。
// 两边都为空视为错误：空清单装出来的外壳毫无离线价值。
func ResolveManifest(ctx context.Context, docs docstore.Store, configured []string) ([]string, error) {
	if docs != nil {
		raw, err := docs.Read(ctx, ManifestDocPath)
		switch {
		case err == nil:
			var doc manifestDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", ManifestDocPath, err)
			}
			if err := validateManifest(doc.URLs); err != nil {
				return nil, err
			}
			return doc.URLs, nil
		case errors.Is(err, docstore.ErrDocNotFound):
			// 回退到配置清单
		default:
			return nil, fmt.Errorf("read %s: %w", ManifestDocPath, err)
		}
	}

	if err := validateManifest(configured); err != nil {
		return nil, err
	}
	return configured, nil
}

// validateManifest 要求清单非空，且每项要么是根相对路径、要么是绝对 http(s) URL。
func validateManifest(urls []string) error {
	if len(urls) == 0 {
		return ErrEmptyManifest
	}
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return errors.New("manifest entry must not be empty")
		}
		if strings.HasPrefix(trimmed, "/") {
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("manifest entry must be root-relative or absolute http(s): %s", raw)
		}
	}
	return nil
}
