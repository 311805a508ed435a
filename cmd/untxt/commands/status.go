package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	statusAPIPort int
	statusOutput  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show platform status",
	Long: `Check the running server's readiness probe and display the result.

Examples:
  # Check status against the default port
  untxt status

  # Custom API port, JSON output
  untxt status --api-port 9080 --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table|json)")
}

// readiness mirrors the /health/ready response body.
type readiness struct {
	Success bool `json:"success"`
	Data    struct {
		Checks map[string]string `json:"checks"`
	} `json:"data"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("http://localhost:%d/health/ready", statusAPIPort)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("%w: server not reachable on port %d: %v", ErrDependency, statusAPIPort, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var ready readiness
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return fmt.Errorf("%w: unexpected readiness response: %v", ErrDependency, err)
	}

	if statusOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(ready); err != nil {
			return err
		}
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Check", "Status"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)

		for name, state := range ready.Data.Checks {
			table.Append([]string{name, state})
		}
		table.Render()
	}

	if !ready.Success {
		return fmt.Errorf("%w: one or more dependencies unhealthy", ErrDependency)
	}
	return nil
}
