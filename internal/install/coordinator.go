package install

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/notify"
)

// State 描述安装提示协调器所处的阶段。
type State string

const (
	// StateIdle：尚未收到平台的安装邀约，可能永远停留在此。
	StateIdle State = "idle"
	// StateOfferable：邀约已保留，安装入口可见，等待用户触发。
	StateOfferable State = "offerable"
	// StateAwaitingChoice：提示已重放，等待用户接受或拒绝。
	StateAwaitingChoice State = "awaiting_choice"
	// StateConsumed：邀约已消费或应用已安装，终态。
	StateConsumed State = "consumed"
)

// Choice 是用户对安装提示的最终选择。
type Choice string

const (
	ChoiceAccepted  Choice = "accepted"
	ChoiceDismissed Choice = "dismissed"
)

// Offer 是平台签发的一次性安装能力：Prompt 重放安装提示并阻塞到
// 用户做出选择。实现不可复用，协调器保证至多消费一次。
type Offer interface {
	Prompt(ctx context.Context) (Choice, error)
}

// Notifier 是协调器对通知面的最小依赖。
type Notifier interface {
	Show(message string, severity notify.Severity) notify.Notification
}

const messageInstalled = "app installed"

// Coordinator 管理 Idle → Offerable → AwaitingChoice → Consumed 状态机。
// 保留的邀约建模为可空字段，消费时在锁内原子置空，
// 因此重复触发安装只会是静默 no-op，绝不会把错误抛给用户。
type Coordinator struct {
	mu       sync.Mutex
	state    State
	offer    Offer
	visible  bool
	notifier Notifier
	logger   *logrus.Logger
}

// NewCoordinator 创建处于 Idle 状态的协调器。
func NewCoordinator(notifier Notifier, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		state:    StateIdle,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleBeforeInstall 处理平台的 “可安装” 信号：保留邀约并显示安装入口。
// 平台默认提示通过只保留不重放的方式抑制。终态后到达的信号被忽略；
// 重复信号以新邀约替换旧邀约（平台保证同时至多一个存活）。
func (c *Coordinator) HandleBeforeInstall(offer Offer) {
	if offer == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConsumed || c.state == StateAwaitingChoice {
		return
	}

	c.offer = offer
	c.visible = true
	c.state = StateOfferable

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "install_offer_retained",
		}).Info("install offer retained")
	}
}

// InstallApp 对应用户点按安装入口：重放保留的邀约并观察用户选择。
// 没有保留邀约（从未收到或已消费）时静默返回。
func (c *Coordinator) InstallApp(ctx context.Context) {
	c.mu.Lock()
	offer := c.offer
	if offer == nil {
		c.mu.Unlock()
		return
	}
	// 进入 AwaitingChoice 前先清空保留位，重复点击自然落入上面的 no-op。
	c.offer = nil
	c.state = StateAwaitingChoice
	c.mu.Unlock()

	choice, err := offer.Prompt(ctx)

	c.mu.Lock()
	c.state = StateConsumed
	c.visible = false
	c.mu.Unlock()

	if err != nil {
		// 提示重放失败不升级为用户可见错误，仅记录。
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{
				"action": "install_prompt",
			}).Warn(err.Error())
		}
		return
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "install_prompt",
			"choice": string(choice),
		}).Info("install choice resolved")
	}

	if choice == ChoiceAccepted && c.notifier != nil {
		c.notifier.Show(messageInstalled, notify.SeveritySuccess)
	}
	// 拒绝时静默移除入口，不是错误。
}

// HandleInstalled 处理平台的 “已安装” 信号，覆盖经浏览器菜单安装、
// 绕过应用内入口的路径：清空邀约、隐藏入口并进入终态。
func (c *Coordinator) HandleInstalled() {
	c.mu.Lock()
	already := c.state == StateConsumed
	c.offer = nil
	c.visible = false
	c.state = StateConsumed
	c.mu.Unlock()

	if already {
		return
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "app_installed",
		}).Info("platform reported app installed")
	}
	if c.notifier != nil {
		c.notifier.Show(messageInstalled, notify.SeveritySuccess)
	}
}

// State 返回当前状态。
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AffordanceVisible 返回安装入口当前是否可见。
func (c *Coordinator) AffordanceVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}
