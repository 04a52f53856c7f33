package device

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered devices",
	Long: `List all devices registered on the cryptblk server.

Examples:
  # List devices as table
  cryptblkctl device list

  # List as JSON
  cryptblkctl device list -o json`,
	RunE: runList,
}

// DeviceList is a list of devices for table rendering.
type DeviceList []apiclient.Device

// Headers implements TableRenderer.
func (dl DeviceList) Headers() []string {
	return []string{"NAME", "BACKEND", "CIPHER", "SECTORS", "ENABLED", "ATTACHED"}
}

// Rows implements TableRenderer.
func (dl DeviceList) Rows() [][]string {
	rows := make([][]string, 0, len(dl))
	for _, d := range dl {
		sectors := "-"
		if d.Sectors > 0 {
			sectors = fmt.Sprintf("%d", d.Sectors)
		}
		rows = append(rows, []string{
			d.Name,
			d.Backend,
			d.Cipher,
			sectors,
			cmdutil.BoolToYesNo(d.Enabled),
			cmdutil.BoolToYesNo(d.Attached),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	devices, err := client.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, devices, len(devices) == 0, "No devices registered.", DeviceList(devices))
}
