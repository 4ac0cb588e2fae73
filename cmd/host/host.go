package host

import (
	"portpilot/cmd/root"
	"portpilot/internal/config"
	"portpilot/internal/store"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage SSH host records",
	Long:  "管理SSH主机记录，隧道定义通过hostId引用这些记录",
}

// 主机命令不需要监管进程，直接开库即可
func localStore() (*store.Store, error) {
	return store.Open(config.Config.Database.Path)
}

func init() {
	root.RootCmd.AddCommand(hostCmd)
}
