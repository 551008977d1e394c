package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if g.ProbeInterval.DurationValue() <= 0 {
		return newFieldError("ProbeInterval", "必须大于 0")
	}
	if !strings.HasPrefix(g.ProbePath, "/") {
		return newFieldError("ProbePath", "必须以 / 开头")
	}
	if g.NotifyTTL.DurationValue() <= 0 {
		return newFieldError("NotifyTTL", "必须大于 0")
	}

	if err := validateBucketLabel(g.CachePrefix); err != nil {
		return fmt.Errorf("CachePrefix: %w", err)
	}
	if err := validateBucketLabel(g.CacheVersion); err != nil {
		return fmt.Errorf("CacheVersion: %w", err)
	}

	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Upstream: %w", err)
	}

	// 清单允许为空，此时必须配置文档库，由持久化清单兜底。
	if len(c.Manifest) == 0 && g.DocStorePath == "" {
		return newFieldError("Manifest", "内联清单为空时必须配置 DocStorePath")
	}
	for i, entry := range c.Manifest {
		if strings.TrimSpace(entry) == "" {
			return newFieldError(manifestField(i), "不能为空")
		}
	}

	return nil
}

// validateBucketLabel 拒绝会破坏磁盘布局的桶名片段。
func validateBucketLabel(label string) error {
	if label == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(label, `/\`) || strings.Contains(label, " ") {
		return fmt.Errorf("不允许包含路径分隔符或空格: %s", label)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// UpstreamURL 返回解析后的上游地址（假定 Validate 已通过）。
func (g GlobalConfig) UpstreamURL() (*url.URL, error) {
	return url.Parse(g.Upstream)
}
