package models

import "time"

// LogStream 日志行来源
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
	// 由portpilot自身产生的诊断行(启动/终止说明等)
	StreamSystem LogStream = "system"
)

// LogLine 带时间戳的单行子进程输出
type LogLine struct {
	TunnelID int64     `json:"tunnelId"`
	Stream   LogStream `json:"stream"`
	Time     time.Time `json:"time"`
	Text     string    `json:"text"`
}
