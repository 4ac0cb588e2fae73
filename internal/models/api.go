package models

// ErrorResponse defines API error response format
type ErrorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// TunnelResponse 单个隧道操作的应答
type TunnelResponse struct {
	TunnelID int64       `json:"tunnelId"`
	State    TunnelState `json:"state"`
	Status   string      `json:"status"`
	Message  string      `json:"message,omitempty"`
}

/**
 * BulkResult 批量操作中单个隧道的结果
 * @property {bool} success - 该隧道操作是否成功
 * @property {string} error - 失败原因，成功时为空
 * @description
 * - startAll/stopAll对每个隧道独立执行，互不影响
 * - 部分成功是正常结果，调用方按条目逐个处理
 */
type BulkResult struct {
	TunnelID int64       `json:"tunnelId"`
	State    TunnelState `json:"state"`
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
}
