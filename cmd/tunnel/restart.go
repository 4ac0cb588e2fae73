package tunnel

import (
	"fmt"
	"log"

	"portpilot/internal/models"
	"portpilot/internal/rpc"

	"github.com/spf13/cobra"
)

var restartID int64

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart a tunnel",
	Run: func(cmd *cobra.Command, args []string) {
		if restartID == 0 {
			log.Fatal("Must specify a tunnel (--id)")
		}

		client := rpc.NewClient(nil)
		if client.Available() {
			resp, err := client.Post(fmt.Sprintf("/tunnels/%d/restart", restartID), nil)
			if err != nil {
				log.Fatalf("Failed to call portpilot server: %v", err)
			}
			var tr models.TunnelResponse
			if err := resp.Decode(&tr); err != nil {
				log.Fatalf("Failed to restart tunnel %d: %s", restartID, resp.Error)
			}
			fmt.Printf("Tunnel %d is %s\n", tr.TunnelID, tr.State)
			return
		}

		// 本地重启 = 先清掉脱管进程再脱管启动
		log.Printf("portpilot server is not running, restarting locally (unsupervised)")
		sv, err := localSupervisor()
		if err != nil {
			log.Fatalf("Failed to open local state: %v", err)
		}
		if _, err := sv.StopDetached(restartID); err != nil {
			log.Fatalf("Failed to stop tunnel %d: %v", restartID, err)
		}
		if err := startOneLocally(sv, restartID); err != nil {
			log.Fatalf("Failed to start tunnel %d: %v", restartID, err)
		}
	},
}

func init() {
	restartCmd.Flags().SortFlags = false
	restartCmd.Flags().Int64VarP(&restartID, "id", "i", 0, "Tunnel ID")

	tunnelCmd.AddCommand(restartCmd)
}
