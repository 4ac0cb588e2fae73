package models

import "time"

// TunnelType 隧道转发类型
type TunnelType string

const (
	// -L 本地端口转发
	TunnelLocal TunnelType = "local"
	// -R 远程(反向)端口转发
	TunnelRemote TunnelType = "remote"
	// -D 动态SOCKS代理
	TunnelDynamic TunnelType = "dynamic"
)

type TunnelState string

const (
	// 表示未运行，初始状态，也是正常停止后的状态
	StateStopped TunnelState = "stopped"
	// 表示正在启动，尚未确认进程创建成功
	StateStarting TunnelState = "starting"
	// 表示进程已创建成功。注意: 不代表端口转发已验证可用
	StateRunning TunnelState = "running"
	// 表示用户已请求停止，等待进程退出
	StateStopping TunnelState = "stopping"
	// 表示意外退出或启动失败，需要用户显式restart才会再次启动
	StateFailed TunnelState = "failed"
)

/**
 * Tunnel definition (persisted, serialized to JSON format)
 * @property {int64} hostId - Owning host record
 * @property {string} type - local/remote/dynamic
 * @property {string} bindAddress - Listen address, defaults to 127.0.0.1
 * @property {int} localPort - Local port (1-65535)
 * @property {string} remoteHost - Destination host, unused for dynamic
 * @property {int} remotePort - Destination port, unused for dynamic
 * @property {bool} background - Leave the process running when portpilot exits
 */
type Tunnel struct {
	ID          int64      `json:"id" gorm:"primaryKey"`
	HostID      int64      `json:"hostId" gorm:"not null;index"`
	Name        string     `json:"name"`
	Type        TunnelType `json:"type" gorm:"not null"`
	BindAddress string     `json:"bindAddress,omitempty"`
	LocalPort   int        `json:"localPort"`
	RemoteHost  string     `json:"remoteHost,omitempty"`
	RemotePort  int        `json:"remotePort,omitempty"`
	Background  bool       `json:"background"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

/**
 * Live tunnel information returned by the API and CLI
 * @property {TunnelState} state - Current state machine state
 * @property {TunnelRun} run - Current (or last) run, nil before first start
 */
type TunnelDetail struct {
	Tunnel    Tunnel      `json:"tunnel"`
	State     TunnelState `json:"state"`
	LastError string      `json:"lastError,omitempty"`
	Run       *TunnelRun  `json:"run,omitempty"`
}
