package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"portpilot/cmd/root"
	"portpilot/controllers"
	"portpilot/internal/config"
	"portpilot/internal/env"
	"portpilot/internal/logger"
	"portpilot/internal/middleware"
	"portpilot/internal/rpc"
	"portpilot/internal/store"
	"portpilot/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var startAll bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动隧道守护进程",
	Long:  `常驻运行，托管隧道进程并提供HTTP API，CLI子命令通过API操作守护进程`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startServer(context.Background()); err != nil {
			logger.Fatal(err)
		}
	},
}

/**
 * startServer 守护进程主流程
 * @param {context.Context} ctx - 根上下文
 * @returns {error} 初始化失败时返回错误
 * @description
 * - 打开数据库，构建监督器，按需启动全部隧道
 * - TCP和unix socket双监听，unix socket供本机CLI使用
 * - SIGINT/SIGTERM触发收尾：后台隧道放走，其余停止
 */
func startServer(ctx context.Context) error {
	cfg := &config.Config

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	sv, err := services.NewSupervisor(st, cfg)
	if err != nil {
		return err
	}

	services.StartMetricsCollector(sv)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go services.NewMonitor(sv, cfg).Run(ctx)

	if startAll {
		for _, r := range sv.StartAll() {
			if !r.Success {
				logger.Warnf("Tunnel %d failed to start: %s", r.TunnelID, r.Error)
			}
		}
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.MetricsMiddleware())

	api := router.Group("/portpilot/api/v1")
	controllers.NewAPIController(sv, env.Version).RegisterRoutes(router, api)
	controllers.NewTunnelController(sv).RegisterRoutes(api)
	controllers.NewHostController(st, sv).RegisterRoutes(api)

	addrs := []ListenAddr{
		{Network: "tcp", Address: cfg.Server.Address},
	}
	if IsUnixSocketSupported() {
		addrs = append(addrs, ListenAddr{Network: "unix", Address: rpc.SocketPath()})
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		return err
	}

	httpServer := &http.Server{Handler: router}
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		logger.Infof("API server listening on %s", l.Addr())
		go func(ln net.Listener) {
			if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}(l)
	}

	// 等信号或监听失败
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received signal %v, shutting down", sig)
	case err := <-errCh:
		logger.Errorf("API server error: %v", err)
	}

	cancel()
	httpServer.Shutdown(context.Background())
	sv.Shutdown()
	os.Remove(rpc.SocketPath())
	return nil
}

func init() {
	root.RootCmd.AddCommand(serverCmd)

	serverCmd.Flags().BoolVar(&startAll, "start-all", false, "Start every tunnel after boot")
	serverCmd.Example = `  portpilot server --start-all`
}
