package routes

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/cache"
	"github.com/coop-shell/coop-shell/internal/connectivity"
	"github.com/coop-shell/coop-shell/internal/install"
	"github.com/coop-shell/coop-shell/internal/notify"
	"github.com/coop-shell/coop-shell/internal/shell"
	"github.com/coop-shell/coop-shell/internal/version"
)

// Dependencies 汇总诊断面需要的全部组件。
type Dependencies struct {
	Lifecycle   *shell.Lifecycle
	Monitor     *connectivity.Monitor
	Coordinator *install.Coordinator
	Surface     *notify.Surface
	Store       cache.Store
	Logger      *logrus.Logger
}

// signalHub 保存尚未解决的安装邀约，平台信号经 HTTP 注入后在这里桥接。
type signalHub struct {
	mu      sync.Mutex
	pending *install.ChannelOffer
}

func (h *signalHub) retain(offer *install.ChannelOffer) {
	h.mu.Lock()
	displaced := h.pending
	h.pending = offer
	h.mu.Unlock()

	// 被顶替的邀约必须作废，否则阻塞在它上面的安装 goroutine 永远等不到选择。
	if displaced != nil {
		displaced.Abandon()
	}
}

func (h *signalHub) resolve(choice install.Choice) bool {
	h.mu.Lock()
	offer := h.pending
	h.pending = nil
	h.mu.Unlock()

	if offer == nil {
		return false
	}
	offer.Resolve(choice)
	return true
}

// RegisterDiagnostics 暴露 /-/status 与 /-/signals/* 诊断接口：
// 状态查询供横幅/调试使用，信号端点把平台事件注入页面侧组件。
func RegisterDiagnostics(app *fiber.App, deps Dependencies) {
	if app == nil {
		return
	}

	hub := &signalHub{}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(statusPayload(c, deps))
	})

	app.Post("/-/signals/connectivity", func(c fiber.Ctx) error {
		var body struct {
			Online *bool `json:"online"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil || body.Online == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "online_field_required"})
		}
		deps.Monitor.Signal(*body.Online)
		return c.JSON(fiber.Map{"online": deps.Monitor.Online()})
	})

	app.Post("/-/signals/before-install", func(c fiber.Ctx) error {
		offer := install.NewChannelOffer()
		hub.retain(offer)
		deps.Coordinator.HandleBeforeInstall(offer)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"install_state": string(deps.Coordinator.State()),
		})
	})

	app.Post("/-/install", func(c fiber.Ctx) error {
		// 重放提示会阻塞到用户选择，放到独立 goroutine 里等待；
		// 没有保留邀约时 InstallApp 本身就是静默 no-op。
		go deps.Coordinator.InstallApp(context.Background())
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"install_state": string(deps.Coordinator.State()),
		})
	})

	app.Post("/-/signals/install-choice", func(c fiber.Ctx) error {
		var body struct {
			Outcome string `json:"outcome"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "outcome_field_required"})
		}
		var choice install.Choice
		switch strings.ToLower(strings.TrimSpace(body.Outcome)) {
		case string(install.ChoiceAccepted):
			choice = install.ChoiceAccepted
		case string(install.ChoiceDismissed):
			choice = install.ChoiceDismissed
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_outcome"})
		}
		resolved := hub.resolve(choice)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"resolved": resolved})
	})

	app.Post("/-/signals/installed", func(c fiber.Ctx) error {
		deps.Coordinator.HandleInstalled()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"install_state": string(deps.Coordinator.State()),
		})
	})

	app.Post("/-/notifications/dismiss", func(c fiber.Ctx) error {
		deps.Surface.Dismiss()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func statusPayload(c fiber.Ctx, deps Dependencies) fiber.Map {
	online := deps.Monitor.Online()

	shellState := fiber.Map{
		"state":  string(deps.Lifecycle.State()),
		"bucket": deps.Lifecycle.BucketName(),
	}
	if deps.Store != nil {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if names, err := deps.Store.ListNames(ctx); err == nil {
			shellState["buckets"] = names
		} else if deps.Logger != nil {
			deps.Logger.WithFields(logrus.Fields{"action": "status"}).Warn(err.Error())
		}
	}

	payload := fiber.Map{
		"version": version.Full(),
		"shell":   shellState,
		"connectivity": fiber.Map{
			"online":   online,
			"degraded": !online,
		},
		"install": fiber.Map{
			"state":              string(deps.Coordinator.State()),
			"affordance_visible": deps.Coordinator.AffordanceVisible(),
		},
	}

	if current, ok := deps.Surface.Current(); ok {
		payload["notification"] = fiber.Map{
			"id":        current.ID,
			"message":   current.Message,
			"severity":  string(current.Severity),
			"css_class": current.Severity.CSSClass(),
		}
	} else {
		payload["notification"] = nil
	}

	return payload
}
