package models

import "time"

/**
 * StateEvent 状态迁移事件
 * @property {TunnelState} oldState - 迁移前状态
 * @property {TunnelState} newState - 迁移后状态
 * @property {string} reason - 迁移原因(用户操作/退出码/错误摘要)
 * @description
 * - 按迁移发生顺序投递给订阅者，订阅者不会观察到乱序
 */
type StateEvent struct {
	TunnelID int64       `json:"tunnelId"`
	OldState TunnelState `json:"oldState"`
	NewState TunnelState `json:"newState"`
	Reason   string      `json:"reason,omitempty"`
	Time     time.Time   `json:"time"`
}
