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
	startID  int64
	startAll bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start tunnel(s)",
	Run: func(cmd *cobra.Command, args []string) {
		if startID == 0 && !startAll {
			log.Fatal("Must specify a tunnel (--id) or --all")
		}

		// 先尝试通过守护进程执行
		client := rpc.NewClient(nil)
		if client.Available() {
			if startAll {
				startAllViaRPC(client)
			} else {
				startOneViaRPC(client, startID)
			}
			return
		}

		// 守护进程不在线，本地执行
		log.Printf("portpilot server is not running, starting locally (unsupervised)")
		sv, err := localSupervisor()
		if err != nil {
			log.Fatalf("Failed to open local state: %v", err)
		}
		if startAll {
			for _, d := range sv.List() {
				if err := startOneLocally(sv, d.Tunnel.ID); err != nil {
					log.Printf("Failed to start tunnel %d: %v", d.Tunnel.ID, err)
				}
			}
			return
		}
		if err := startOneLocally(sv, startID); err != nil {
			log.Fatalf("Failed to start tunnel %d: %v", startID, err)
		}
	},
}

func startOneViaRPC(client *rpc.Client, id int64) {
	resp, err := client.Post(fmt.Sprintf("/tunnels/%d/start", id), nil)
	if err != nil {
		log.Fatalf("Failed to call portpilot server: %v", err)
	}
	var tr models.TunnelResponse
	if err := resp.Decode(&tr); err != nil {
		log.Fatalf("Failed to start tunnel %d: %s", id, resp.Error)
	}
	fmt.Printf("Tunnel %d is %s\n", tr.TunnelID, tr.State)
}

func startAllViaRPC(client *rpc.Client) {
	resp, err := client.Post("/tunnels/start", nil)
	if err != nil {
		log.Fatalf("Failed to call portpilot server: %v", err)
	}
	var results []models.BulkResult
	if err := resp.Decode(&results); err != nil {
		log.Fatalf("Failed to start tunnels: %s", resp.Error)
	}
	printBulkResults(results)
}

func startOneLocally(sv *services.Supervisor, id int64) error {
	ti, err := sv.Get(id)
	if err != nil {
		return err
	}
	pid, err := ti.StartDetached()
	if err != nil {
		return err
	}
	fmt.Printf("Tunnel %d started detached (PID: %d)\n", id, pid)
	return nil
}

func printBulkResults(results []models.BulkResult) {
	for _, r := range results {
		if r.Success {
			fmt.Printf("Tunnel %d: %s\n", r.TunnelID, r.State)
		} else {
			fmt.Printf("Tunnel %d: %s (%s)\n", r.TunnelID, r.State, r.Error)
		}
	}
}

func init() {
	startCmd.Flags().SortFlags = false
	startCmd.Flags().Int64VarP(&startID, "id", "i", 0, "Tunnel ID")
	startCmd.Flags().BoolVarP(&startAll, "all", "a", false, "Start every tunnel")

	tunnelCmd.AddCommand(startCmd)
}
