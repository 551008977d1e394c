package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/cache"
	"github.com/coop-shell/coop-shell/internal/config"
	"github.com/coop-shell/coop-shell/internal/connectivity"
	"github.com/coop-shell/coop-shell/internal/docstore"
	"github.com/coop-shell/coop-shell/internal/install"
	"github.com/coop-shell/coop-shell/internal/logging"
	"github.com/coop-shell/coop-shell/internal/notify"
	"github.com/coop-shell/coop-shell/internal/proxy"
	"github.com/coop-shell/coop-shell/internal/server"
	"github.com/coop-shell/coop-shell/internal/server/routes"
	"github.com/coop-shell/coop-shell/internal/shell"
	"github.com/coop-shell/coop-shell/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Global.Upstream
		fields["bucket"] = cfg.Global.BucketName()
		fields["manifest_entries"] = len(cfg.Manifest)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	upstream, err := cfg.Global.UpstreamURL()
	if err != nil {
		fmt.Fprintf(stdErr, "解析上游地址失败: %v\n", err)
		return 1
	}

	var docs docstore.Store
	if cfg.Global.DocStorePath != "" {
		docs, err = docstore.Open(cfg.Global.DocStorePath)
		if err != nil {
			fmt.Fprintf(stdErr, "打开文档库失败: %v\n", err)
			return 1
		}
		defer docs.Close()
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 外壳生命周期 → Fiber server”顺序，
	// 外壳安装失败只降级为纯转发，不阻止服务启动。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)

	lifecycle, err := shell.NewLifecycle(shell.Options{
		Store:    store,
		Docs:     docs,
		Fetch:    cache.NewHTTPFetcher(httpClient, upstream),
		Prefix:   cfg.Global.CachePrefix,
		Version:  cfg.Global.CacheVersion,
		Manifest: cfg.Manifest,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建外壳生命周期失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := lifecycle.Install(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action": "shell_install",
			"bucket": lifecycle.BucketName(),
		}).Warn(err.Error())
	} else if err := lifecycle.Activate(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action": "shell_activate",
			"bucket": lifecycle.BucketName(),
		}).Warn(err.Error())
	}

	surface := notify.NewSurface(cfg.Global.NotifyTTL.DurationValue())
	coordinator := install.NewCoordinator(surface, logger)
	monitor := connectivity.NewMonitor(true, surface, logger, nil)

	prober := connectivity.NewProber(
		httpClient,
		upstream,
		cfg.Global.ProbePath,
		cfg.Global.ProbeInterval.DurationValue(),
		monitor,
		logger,
	)
	prober.Start(ctx)
	defer prober.Stop()

	interceptor := proxy.NewInterceptor(httpClient, logger, lifecycle, upstream)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Global.Upstream
	fields["bucket"] = lifecycle.BucketName()
	fields["shell_state"] = string(lifecycle.State())
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, interceptor, lifecycle, monitor, coordinator, surface, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("coop-shell", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 COOP_SHELL_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("COOP_SHELL_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	interceptor *proxy.Interceptor,
	lifecycle *shell.Lifecycle,
	monitor *connectivity.Monitor,
	coordinator *install.Coordinator,
	surface *notify.Surface,
	store cache.Store,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Interceptor: interceptor,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, routes.Dependencies{
		Lifecycle:   lifecycle,
		Monitor:     monitor,
		Coordinator: coordinator,
		Surface:     surface,
		Store:       store,
		Logger:      logger,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
