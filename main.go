package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/readthrough/internal/access"
	"github.com/any-hub/readthrough/internal/cache"
	"github.com/any-hub/readthrough/internal/config"
	"github.com/any-hub/readthrough/internal/edge"
	"github.com/any-hub/readthrough/internal/logging"
	"github.com/any-hub/readthrough/internal/origin"
	"github.com/any-hub/readthrough/internal/proxy"
	"github.com/any-hub/readthrough/internal/server"
	"github.com/any-hub/readthrough/internal/server/routes"
	"github.com/any-hub/readthrough/internal/version"
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

const shutdownTimeout = 30 * time.Second

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

	logger, err := logging.InitLogger(cfg.Global, stdOut)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := summaryFields("check_config", opts.configPath, cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 对象缓存 → 凭证 → 回源客户端 → 边缘缓存 → 后台写入 → Fiber server。
	// 所有请求共享同一组实例，两层缓存是仅有的跨请求状态。
	store, err := cache.NewStore(cfg.Global.StoreDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	gate := access.NewGate(cfg.Access.ReadKeys, cfg.Access.WriteKeys)
	fetcher := origin.NewFetcher(server.NewUpstreamClient(cfg), cfg.Global.BufferedHosts)

	var edgeCache *edge.Cache
	if cfg.Global.EdgeEnabled() {
		edgeCache, err = edge.New(cfg.Global.EdgeCacheMaxSize, cfg.Global.EdgeCacheMaxEntry, cfg.Global.EdgeCacheTTL.DurationValue())
		if err != nil {
			fmt.Fprintf(stdErr, "初始化边缘缓存失败: %v\n", err)
			return 1
		}
		defer edgeCache.Close()
	}

	writer := cache.NewWriter(cfg.Global.PersistWorkers, logger)
	// 退出前等待已调度的缓存写入完成。
	defer writer.Close()

	handler, err := proxy.NewHandler(proxy.Options{
		Store:        store,
		Edge:         edgeCache,
		Fetcher:      fetcher,
		Gate:         gate,
		Writer:       writer,
		Logger:       logger,
		CacheControl: cfg.Global.CacheControl,
		HitHeader:    cfg.Global.HitHeader,
		FaviconKey:   cfg.Global.FaviconKey,
		StallTimeout: cfg.Global.ClientStallTimeout.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化代理失败: %v\n", err)
		return 1
	}

	fields := summaryFields("startup", opts.configPath, cfg)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["edge_cache"] = cfg.Global.EdgeEnabled()
	fields["persist_workers"] = cfg.Global.PersistWorkers
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Proxy:        handler,
		Favicon:      server.ProxyHandlerFunc(handler.HandleFavicon),
		ListenPort:   cfg.Global.ListenPort,
		WriteTimeout: cfg.Global.ClientWriteTimeout.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}

	readKeys, writeKeys := gate.Counts()
	routes.RegisterStatusRoutes(app, routes.StatusSource{
		Version:       version.Full(),
		StoreDriver:   cfg.Global.StoreDriver,
		Started:       time.Now(),
		Edge:          edgeCache,
		Writer:        writer,
		ReadKeys:      readKeys,
		WriteKeys:     writeKeys,
		BufferedHosts: fetcher.BufferedHosts(),
	})

	if err := startHTTPServer(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("readthrough", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 READTHROUGH_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("READTHROUGH_CONFIG")
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

// summaryFields 输出配置摘要，凭证只记录数量。
func summaryFields(action, configPath string, cfg *config.Config) logrus.Fields {
	fields := logging.BaseFields(action, configPath)
	readKeys, writeKeys := cfg.Access.KeyCounts()
	fields["store_driver"] = cfg.Global.StoreDriver
	fields["storage_path"] = cfg.Global.StoragePath
	fields["read_keys"] = readKeys
	fields["write_keys"] = writeKeys
	fields["buffered_hosts"] = len(cfg.Global.BufferedHosts)
	return fields
}

// startHTTPServer 阻塞监听，收到 SIGINT/SIGTERM 后优雅关闭，随后由调用方等待后台写入结束。
func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，停止接收新请求")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭超时")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
