package utils

import (
	"fmt"
	"net"
	"time"
)

// CheckPortConnectable 检查本地端口是否可以建立TCP连接
// 用于隧道详情里反映本地转发端口的可达性，不代表远端服务可用
func CheckPortConnectable(bindAddress string, port int) bool {
	host := bindAddress
	if host == "" || host == "0.0.0.0" || host == "*" {
		host = "localhost"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// CheckPortAvailable 检查本地端口是否空闲（能成功连接说明已被占用）
func CheckPortAvailable(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprintf("%d", port)), time.Second)
	if err != nil {
		// 连接失败，说明端口可用
		return true
	}
	if conn != nil {
		conn.Close()
		return false
	}
	return true
}
