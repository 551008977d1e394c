package connectivity

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/notify"
)

// 连接状态变化时展示的文案，与页面横幅保持一致。
const (
	messageBackOnline = "back online"
	messageOffline    = "offline, features limited"
)

// Notifier 是 Monitor 对通知面的最小依赖，便于测试注入。
type Notifier interface {
	Show(message string, severity notify.Severity) notify.Notification
}

// Monitor 跟踪在线/离线状态。通知是边沿触发的：只有状态真正翻转时
// 才发一条，重复信号靠 lastKnown 比较合并，而不是定时器。
type Monitor struct {
	mu       sync.Mutex
	online   bool
	notifier Notifier
	logger   *logrus.Logger
	onChange func(online bool)
}

// NewMonitor 创建监视器，initialOnline 为页面加载时的初始状态。
// onChange 在每次状态翻转时收到新状态，用于切换降级样式，可为 nil。
func NewMonitor(initialOnline bool, notifier Notifier, logger *logrus.Logger, onChange func(online bool)) *Monitor {
	return &Monitor{
		online:   initialOnline,
		notifier: notifier,
		logger:   logger,
		onChange: onChange,
	}
}

// Signal 处理一次平台在线/离线信号。
func (m *Monitor) Signal(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "connectivity_change",
			"online": online,
		}).Info("connectivity state changed")
	}

	if m.notifier != nil {
		if online {
			m.notifier.Show(messageBackOnline, notify.SeveritySuccess)
		} else {
			m.notifier.Show(messageOffline, notify.SeverityWarning)
		}
	}

	if m.onChange != nil {
		m.onChange(online)
	}
}

// Online 返回最近一次已知状态。
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
