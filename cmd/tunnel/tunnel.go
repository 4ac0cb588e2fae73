package tunnel

import (
	"portpilot/cmd/root"
	"portpilot/internal/config"
	"portpilot/internal/store"
	"portpilot/services"

	"github.com/spf13/cobra"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Tunnel operations (list, start/stop etc.)",
	Long:  `Tunnel operations (list, start/stop etc.)`,
}

const tunnelExample = `  # start tunnel 3
  portpilot tunnel start --id 3
  # start every tunnel
  portpilot tunnel start --all`

/**
 * localSupervisor 守护进程不在线时的本地兜底
 * @returns {*services.Supervisor} 直接操作数据库的监督器
 * @description
 * - 本地模式拉起的进程无人监管，start会立即脱管
 */
func localSupervisor() (*services.Supervisor, error) {
	st, err := store.Open(config.Config.Database.Path)
	if err != nil {
		return nil, err
	}
	return services.NewSupervisor(st, &config.Config)
}

func init() {
	root.RootCmd.AddCommand(tunnelCmd)

	tunnelCmd.Example = tunnelExample
}
