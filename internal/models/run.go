package models

import "time"

// 运行模式
const (
	// 由本进程监管，退出时按策略停止
	RunModeManaged = "managed"
	// 已脱管，进程独立于portpilot存活
	RunModeDetached = "detached"
)

/**
 * TunnelRun 单次隧道运行记录
 * @property {int} pid - 子进程PID
 * @property {string} mode - managed/detached
 * @property {*int} exitCode - 进程退出码，未退出时为nil
 * @property {string} lastError - 最后一次错误摘要
 * @description
 * - 每次start()创建一条新记录，stop/exit后写入结束信息
 * - 同一隧道同一时刻最多存在一条存活记录
 */
type TunnelRun struct {
	ID        int64      `json:"id" gorm:"primaryKey"`
	TunnelID  int64      `json:"tunnelId" gorm:"not null;index"`
	Pid       int        `json:"pid"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	LogPath   string     `json:"logPath,omitempty"`
}
