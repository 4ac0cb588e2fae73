package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"portpilot/internal/models"
)

var (
	tunnelStartTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portpilot_tunnel_start_total",
			Help: "Total tunnel start attempts",
		},
		[]string{"result"},
	)

	tunnelExitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portpilot_tunnel_exit_total",
			Help: "Total tunnel process exits",
		},
		[]string{"result"},
	)

	tunnelsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portpilot_tunnels_running",
			Help: "Number of tunnels currently in running state",
		},
	)
)

func init() {
	prometheus.MustRegister(tunnelStartTotal)
	prometheus.MustRegister(tunnelExitTotal)
	prometheus.MustRegister(tunnelsRunning)
}

/**
 * StartMetricsCollector 把状态事件折算成prometheus指标
 * @param {*Supervisor} sv - 隧道监督器
 * @description
 * - 订阅事件总线，常驻协程，随守护进程退出
 * - running数量从事件增量维护，启动时从当前状态初始化
 */
func StartMetricsCollector(sv *Supervisor) {
	running := 0
	for _, d := range sv.List() {
		if d.State == models.StateRunning {
			running++
		}
	}
	tunnelsRunning.Set(float64(running))

	events, _ := sv.Events().Subscribe()
	go func() {
		for ev := range events {
			switch ev.NewState {
			case models.StateRunning:
				tunnelStartTotal.WithLabelValues("success").Inc()
				tunnelsRunning.Inc()
			case models.StateFailed:
				if ev.OldState == models.StateStarting {
					tunnelStartTotal.WithLabelValues("failure").Inc()
				} else {
					tunnelExitTotal.WithLabelValues("unexpected").Inc()
				}
			case models.StateStopped:
				if ev.OldState == models.StateStopping || ev.OldState == models.StateRunning {
					tunnelExitTotal.WithLabelValues("clean").Inc()
				}
			}
			// 离开Running就减一，包括进入Stopping的中间态
			if ev.OldState == models.StateRunning {
				tunnelsRunning.Dec()
			}
		}
	}()
}
