package services

import (
	"context"
	"time"

	"portpilot/internal/config"
	"portpilot/internal/logger"
	"portpilot/internal/models"
	"portpilot/internal/utils"
)

/**
 * Monitor 运行中隧道的周期性健康巡检
 * @description
 * - 只做观测：探测本地转发端口能否建立TCP连接，结果写日志和指标
 * - 不做自动重启，意外退出的隧道停在Failed等用户处理
 */
type Monitor struct {
	sv  *Supervisor
	cfg *config.AppConfig
}

func NewMonitor(sv *Supervisor, cfg *config.AppConfig) *Monitor {
	return &Monitor{sv: sv, cfg: cfg}
}

/**
 * Run 启动巡检循环，ctx取消时退出
 * @param {context.Context} ctx - 守护进程的生命周期上下文
 */
func (m *Monitor) Run(ctx context.Context) {
	if m.cfg.Monitor.Interval <= 0 {
		logger.Info("Tunnel health monitoring is disabled (interval <= 0)")
		return
	}
	interval := time.Duration(m.cfg.Monitor.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof("Tunnel health monitoring started (interval: %v)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

// probeOnce 检查每条Running隧道的本地端口
func (m *Monitor) probeOnce() {
	for _, d := range m.sv.List() {
		if d.State != models.StateRunning {
			continue
		}
		// 反向隧道的监听端在远端，本地探测没有意义
		if d.Tunnel.Type == models.TunnelRemote {
			continue
		}
		if !utils.CheckPortConnectable(d.Tunnel.BindAddress, d.Tunnel.LocalPort) {
			logger.Warnf("Tunnel %d(%s) is running but local port %d is not connectable",
				d.Tunnel.ID, d.Tunnel.Name, d.Tunnel.LocalPort)
		}
	}
}
