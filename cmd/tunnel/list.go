package tunnel

import (
	"fmt"
	"log"

	"portpilot/internal/models"
	"portpilot/internal/rpc"
	"portpilot/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var (
	listType string
	listPort int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tunnels",
	Run: func(cmd *cobra.Command, args []string) {
		if err := listTunnels(); err != nil {
			fmt.Println(err)
		}
	},
}

/**
 * List tunnel information with filtering
 * @returns {error} Returns error if listing fails, nil on success
 * @description
 * - Fetches live state from the running portpilot server when available
 * - Falls back to local database records when the server is down
 * - Filters by tunnel type and/or local port if specified
 * - Uses utils.PrintFormat for formatted output
 */
func listTunnels() error {
	details, err := fetchTunnels()
	if err != nil {
		return err
	}

	var filtered []models.TunnelDetail
	for _, d := range details {
		if listType != "" && string(d.Tunnel.Type) != listType {
			continue
		}
		if listPort != 0 && d.Tunnel.LocalPort != listPort {
			continue
		}
		filtered = append(filtered, d)
	}

	if len(filtered) == 0 {
		if listType != "" || listPort != 0 {
			fmt.Println("No matching tunnels found")
		} else {
			fmt.Println("No tunnels defined")
		}
		return nil
	}

	return printTunnels(filtered)
}

func fetchTunnels() ([]models.TunnelDetail, error) {
	client := rpc.NewClient(nil)
	if client.Available() {
		resp, err := client.Get("/tunnels", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to call portpilot server: %v", err)
		}
		var details []models.TunnelDetail
		if err := resp.Decode(&details); err != nil {
			return nil, fmt.Errorf("failed to list tunnels: %s", resp.Error)
		}
		return details, nil
	}

	// 服务端不在线，直接读本地数据库
	log.Printf("portpilot server is not running, listing from local database")
	sv, err := localSupervisor()
	if err != nil {
		return nil, fmt.Errorf("failed to open local state: %v", err)
	}
	return sv.List(), nil
}

/**
 *	Fields displayed in list format
 */
type Tunnel_Columns struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Forward   string `json:"forward"`
	State     string `json:"state"`
	Pid       int    `json:"pid"`
	Mode      string `json:"mode"`
	Healthy   string `json:"healthy"`
	LastError string `json:"last_error"`
}

func printTunnels(details []models.TunnelDetail) error {
	var dataList []*orderedmap.OrderedMap
	for _, d := range details {
		row := Tunnel_Columns{}
		row.ID = d.Tunnel.ID
		row.Name = d.Tunnel.Name
		row.Type = string(d.Tunnel.Type)
		row.Forward = forwardSummary(d.Tunnel)
		row.State = string(d.State)
		row.LastError = d.LastError
		if d.Run != nil && d.Run.StoppedAt == nil {
			row.Pid = d.Run.Pid
			row.Mode = d.Run.Mode
		}

		// 动态代理和正向转发都在本地开端口，能连上就算健康；
		// 脱管运行的隧道没有实时状态，看进程还在不在
		row.Healthy = "N"
		if d.Tunnel.Type != models.TunnelRemote && d.State == models.StateRunning {
			if utils.CheckPortConnectable(d.Tunnel.BindAddress, d.Tunnel.LocalPort) {
				row.Healthy = "Y"
			}
		} else if d.Run != nil && d.Run.StoppedAt == nil && d.Run.Mode == models.RunModeDetached {
			if alive, err := utils.IsProcessRunning(d.Run.Pid); err == nil && alive {
				row.Healthy = "Y"
			}
		}

		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}

	utils.PrintFormat(dataList)
	return nil
}

func forwardSummary(t models.Tunnel) string {
	bind := t.BindAddress
	if bind == "" {
		bind = "127.0.0.1"
	}
	switch t.Type {
	case models.TunnelDynamic:
		return fmt.Sprintf("%s:%d (SOCKS)", bind, t.LocalPort)
	case models.TunnelRemote:
		return fmt.Sprintf("%s:%d <- %s:%d", t.RemoteHost, t.RemotePort, bind, t.LocalPort)
	default:
		return fmt.Sprintf("%s:%d -> %s:%d", bind, t.LocalPort, t.RemoteHost, t.RemotePort)
	}
}

func init() {
	listCmd.Flags().SortFlags = false
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "Tunnel type (local/remote/dynamic)")
	listCmd.Flags().IntVarP(&listPort, "port", "p", 0, "Local port number")
	tunnelCmd.AddCommand(listCmd)
}
