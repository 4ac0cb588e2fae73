package tunnel

import (
	"fmt"
	"log"

	"portpilot/internal/models"
	"portpilot/internal/rpc"
	"portpilot/services"

	"github.com/spf13/cobra"
)

var (
	stopID  int64
	stopAll bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tunnel(s)",
	Run: func(cmd *cobra.Command, args []string) {
		if stopID == 0 && !stopAll {
			log.Fatal("Must specify a tunnel (--id) or --all")
		}

		client := rpc.NewClient(nil)
		if client.Available() {
			if stopAll {
				stopAllViaRPC(client)
			} else {
				stopOneViaRPC(client, stopID)
			}
			return
		}

		// 守护进程不在线：只能收拾库里记录的脱管进程
		log.Printf("portpilot server is not running, stopping detached processes locally")
		sv, err := localSupervisor()
		if err != nil {
			log.Fatalf("Failed to open local state: %v", err)
		}
		if stopAll {
			for _, d := range sv.List() {
				stopOneLocally(sv, d.Tunnel.ID)
			}
			return
		}
		stopOneLocally(sv, stopID)
	},
}

func stopOneViaRPC(client *rpc.Client, id int64) {
	resp, err := client.Post(fmt.Sprintf("/tunnels/%d/stop", id), nil)
	if err != nil {
		log.Fatalf("Failed to call portpilot server: %v", err)
	}
	var tr models.TunnelResponse
	if err := resp.Decode(&tr); err != nil {
		log.Fatalf("Failed to stop tunnel %d: %s", id, resp.Error)
	}
	fmt.Printf("Tunnel %d is %s\n", tr.TunnelID, tr.State)
}

func stopAllViaRPC(client *rpc.Client) {
	resp, err := client.Post("/tunnels/stop", nil)
	if err != nil {
		log.Fatalf("Failed to call portpilot server: %v", err)
	}
	var results []models.BulkResult
	if err := resp.Decode(&results); err != nil {
		log.Fatalf("Failed to stop tunnels: %s", resp.Error)
	}
	printBulkResults(results)
}

func stopOneLocally(sv *services.Supervisor, id int64) {
	stopped, err := sv.StopDetached(id)
	if err != nil {
		log.Printf("Failed to stop tunnel %d: %v", id, err)
		return
	}
	if stopped == 0 {
		fmt.Printf("Tunnel %d has no detached process to stop\n", id)
	} else {
		fmt.Printf("Tunnel %d: stopped %d detached process(es)\n", id, stopped)
	}
}

func init() {
	stopCmd.Flags().SortFlags = false
	stopCmd.Flags().Int64VarP(&stopID, "id", "i", 0, "Tunnel ID")
	stopCmd.Flags().BoolVarP(&stopAll, "all", "a", false, "Stop every tunnel")

	tunnelCmd.AddCommand(stopCmd)
}
