package host

import (
	"fmt"
	"log"

	"portpilot/internal/models"
	"portpilot/internal/rpc"
	"portpilot/internal/utils"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all SSH host records",
	Run: func(cmd *cobra.Command, args []string) {
		if err := listHosts(); err != nil {
			fmt.Println(err)
		}
	},
}

/**
 * List SSH host records
 * @returns {error} Returns error if listing fails, nil on success
 * @description
 * - Fetches host records from the running portpilot server when available
 * - Falls back to the local database when the server is down
 * - Uses utils.PrintFormat for formatted output
 */
func listHosts() error {
	hosts, err := fetchHosts()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Println("No hosts defined")
		return nil
	}
	return printHosts(hosts)
}

func fetchHosts() ([]*models.Host, error) {
	client := rpc.NewClient(nil)
	if client.Available() {
		resp, err := client.Get("/hosts", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to call portpilot server: %v", err)
		}
		var hosts []*models.Host
		if err := resp.Decode(&hosts); err != nil {
			return nil, fmt.Errorf("failed to list hosts: %s", resp.Error)
		}
		return hosts, nil
	}

	log.Printf("portpilot server is not running, listing from local database")
	st, err := localStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %v", err)
	}
	return st.ListHosts()
}

/**
 *	Fields displayed in list format
 */
type Host_Columns struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Username string `json:"username"`
	Identity string `json:"identity"`
}

func printHosts(hosts []*models.Host) error {
	var dataList []*orderedmap.OrderedMap
	for _, h := range hosts {
		row := Host_Columns{}
		row.ID = h.ID
		row.Name = h.Name
		port := h.Port
		if port == 0 {
			port = 22
		}
		row.Address = fmt.Sprintf("%s:%d", h.Hostname, port)
		row.Username = h.Username
		row.Identity = h.IdentityFile

		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}

	utils.PrintFormat(dataList)
	return nil
}

func init() {
	listCmd.Flags().SortFlags = false
	hostCmd.AddCommand(listCmd)
}
