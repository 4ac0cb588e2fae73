package tunnel

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"portpilot/internal/models"
	"portpilot/internal/rpc"

	"github.com/spf13/cobra"
)

var (
	logsID   int64
	logsTail int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent output of a tunnel",
	Run: func(cmd *cobra.Command, args []string) {
		if logsID == 0 {
			log.Fatal("Must specify a tunnel (--id)")
		}
		if err := showLogs(logsID, logsTail); err != nil {
			fmt.Println(err)
		}
	},
}

/**
 * Show buffered log lines of a tunnel
 * @param {int64} id - Tunnel ID
 * @param {int} tail - Only show the last N lines, 0 means all buffered lines
 * @returns {error} Returns error if fetching fails, nil on success
 * @description
 * - Fetches the in-memory log buffer from the running portpilot server
 * - Falls back to the latest run's log file when the server is down
 */
func showLogs(id int64, tail int) error {
	client := rpc.NewClient(nil)
	if client.Available() {
		params := map[string]string{}
		if tail > 0 {
			params["tail"] = strconv.Itoa(tail)
		}
		resp, err := client.Get(fmt.Sprintf("/tunnels/%d/logs", id), params)
		if err != nil {
			return fmt.Errorf("failed to call portpilot server: %v", err)
		}
		var lines []models.LogLine
		if err := resp.Decode(&lines); err != nil {
			return fmt.Errorf("failed to fetch logs: %s", resp.Error)
		}
		for _, line := range lines {
			fmt.Printf("%s [%s] %s\n", line.Time.Format("2006-01-02 15:04:05"), line.Stream, line.Text)
		}
		return nil
	}

	// 服务端不在线，读最近一次运行落盘的日志文件
	log.Printf("portpilot server is not running, reading log file from last run")
	sv, err := localSupervisor()
	if err != nil {
		return fmt.Errorf("failed to open local state: %v", err)
	}
	ti, err := sv.Get(id)
	if err != nil {
		return err
	}
	detail := ti.Detail()
	if detail.Run == nil || detail.Run.LogPath == "" {
		return fmt.Errorf("tunnel %d has no recorded log file", id)
	}
	return printLogFile(detail.Run.LogPath, tail)
}

func printLogFile(path string, tail int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read log file %s: %v", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if tail > 0 && tail < len(lines) {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func init() {
	logsCmd.Flags().SortFlags = false
	logsCmd.Flags().Int64VarP(&logsID, "id", "i", 0, "Tunnel ID")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "Only show the last N lines")

	tunnelCmd.AddCommand(logsCmd)
}
