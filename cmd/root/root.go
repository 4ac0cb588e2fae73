package root

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "portpilot",
	Short: "SSH端口转发隧道管理器",
	Long:  `portpilot管理基于ssh客户端的端口转发隧道：定义、启动、停止、监控和日志`,
}
