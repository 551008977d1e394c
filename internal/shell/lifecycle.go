package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/cache"
	"github.com/coop-shell/coop-shell/internal/docstore"
)

// State 描述外壳缓存所处的生命周期阶段。
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	// StateRedundant：安装失败，本版本外壳永远不会被启用。
	StateRedundant State = "redundant"
)

// Options 汇总生命周期的全部依赖。
type Options struct {
	Store cache.Store
	Docs  docstore.Store
	Fetch cache.FetchFunc
	// Prefix + Version 组成桶名，例如 coop-shell-v2。
	Prefix   string
	Version  string
	Manifest []string
	Logger   *logrus.Logger
}

// Lifecycle 驱动外壳缓存的 install → activate 流程。
// 平台保证同一时刻至多一个安装周期，故内部不做额外并发互斥。
type Lifecycle struct {
	store    cache.Store
	docs     docstore.Store
	fetch    cache.FetchFunc
	prefix   string
	version  string
	manifest []string
	logger   *logrus.Logger

	state  State
	bucket cache.Bucket
}

// NewLifecycle 构造处于 new 状态的生命周期。
func NewLifecycle(opts Options) (*Lifecycle, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		return nil, errors.New("bucket prefix is required")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}

	return &Lifecycle{
		store:    opts.Store,
		docs:     opts.Docs,
		fetch:    opts.Fetch,
		prefix:   opts.Prefix,
		version:  opts.Version,
		manifest: opts.Manifest,
		logger:   opts.Logger,
		state:    StateNew,
	}, nil
}

// BucketName 返回当前版本对应的桶名。
func (l *Lifecycle) BucketName() string {
	return l.prefix + "-" + l.version
}

// State 返回当前阶段。
func (l *Lifecycle) State() State {
	return l.state
}

// CurrentBucket 仅在 activated 后暴露当前桶，供请求拦截层查询。
func (l *Lifecycle) CurrentBucket() (cache.Bucket, bool) {
	if l.state != StateActivated || l.bucket == nil {
		return nil, false
	}
	return l.bucket, true
}

// Install 解析清单并整批预缓存到版本桶。任何一个资源失败都会删除半成品桶、
// 把生命周期置为 redundant 并向上传播错误；调用方在安装完成前不得激活。
func (l *Lifecycle) Install(ctx context.Context) error {
	l.state = StateInstalling

	manifest, err := ResolveManifest(ctx, l.docs, l.manifest)
	if err != nil {
		l.state = StateRedundant
		return fmt.Errorf("resolve manifest: %w", err)
	}

	bucket, err := l.store.Open(ctx, l.BucketName())
	if err != nil {
		l.state = StateRedundant
		return fmt.Errorf("open bucket: %w", err)
	}

	if err := cache.Populate(ctx, bucket, manifest, l.fetch); err != nil {
		// all-or-nothing：丢弃半成品桶，本版本外壳不会被启用。
		if delErr := l.store.Delete(ctx, l.BucketName()); delErr != nil && l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"action": "shell_install",
				"bucket": l.BucketName(),
			}).Warn(delErr.Error())
		}
		l.state = StateRedundant
		l.journal(ctx, "install_failed", err)
		return err
	}

	l.bucket = bucket
	l.state = StateInstalled
	l.journal(ctx, "installed", nil)

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "shell_install",
			"bucket": l.BucketName(),
			"assets": len(manifest),
		}).Info("shell cache populated")
	}
	return nil
}

// Activate 清理所有携带外壳前缀但不等于当前桶名的陈旧桶，然后启用当前桶。
func (l *Lifecycle) Activate(ctx context.Context) error {
	if l.state != StateInstalled {
		return fmt.Errorf("cannot activate from state %s", l.state)
	}
	l.state = StateActivating

	names, err := l.store.ListNames(ctx)
	if err != nil {
		l.state = StateInstalled
		return fmt.Errorf("list buckets: %w", err)
	}

	current := l.BucketName()
	for _, name := range names {
		if name == current || !strings.HasPrefix(name, l.prefix+"-") {
			continue
		}
		if err := l.store.Delete(ctx, name); err != nil {
			l.state = StateInstalled
			return fmt.Errorf("delete stale bucket %s: %w", name, err)
		}
		if l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"action": "shell_activate",
				"bucket": name,
			}).Info("stale shell cache deleted")
		}
	}

	l.state = StateActivated
	l.journal(ctx, "activated", nil)
	return nil
}

// journalEvent 是 shell/events/<id> 文档的 JSON 结构。
type journalEvent struct {
	Kind   string    `json:"kind"`
	Bucket string    `json:"bucket"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

// journal 把生命周期事件写入文档库，失败只降级为日志告警。
func (l *Lifecycle) journal(ctx context.Context, kind string, cause error) {
	if l.docs == nil {
		return
	}

	event := journalEvent{
		Kind:   kind,
		Bucket: l.BucketName(),
		At:     time.Now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return
	}

	id := event.At.Format("20060102T150405.000000000") + "-" + uuid.NewString()[:8]
	if err := l.docs.Write(ctx, "shell/events/"+id, encoded); err != nil && l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "shell_journal",
			"kind":   kind,
		}).Warn(err.Error())
	}
}
