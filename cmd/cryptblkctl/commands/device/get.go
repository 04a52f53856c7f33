package device

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show device details",
	Long: `Show the registration details of a device.

Examples:
  # Show device details
  cryptblkctl device get vault0

  # Show as JSON
  cryptblkctl device get vault0 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

// deviceDetail renders a single device as a key/value table.
type deviceDetail struct {
	device *apiclient.Device
}

// Headers implements TableRenderer.
func (d deviceDetail) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements TableRenderer.
func (d deviceDetail) Rows() [][]string {
	dev := d.device

	keySource := "-"
	if dev.PassphraseEnv != "" {
		keySource = fmt.Sprintf("passphrase (env %s)", dev.PassphraseEnv)
	} else if dev.KeyFile != "" {
		keySource = fmt.Sprintf("key file (%s)", dev.KeyFile)
	}

	attachedSince := "-"
	if dev.AttachedSince != nil {
		attachedSince = dev.AttachedSince.Format("2006-01-02 15:04:05")
	}

	rows := [][]string{
		{"Name", dev.Name},
		{"Backend", dev.Backend},
		{"Cipher", dev.Cipher},
		{"IV mode", cmdutil.EmptyOr(dev.IVMode, "-")},
		{"Features", cmdutil.EmptyOr(strings.Join(dev.Features, " "), "-")},
		{"Start sector", fmt.Sprintf("%d", dev.StartSector)},
		{"Sectors", fmt.Sprintf("%d", dev.Sectors)},
		{"IV offset", fmt.Sprintf("%d", dev.IVOffset)},
		{"Key source", keySource},
		{"Enabled", cmdutil.BoolToYesNo(dev.Enabled)},
		{"Attached", cmdutil.BoolToYesNo(dev.Attached)},
		{"Attached since", attachedSince},
		{"Created", dev.CreatedAt.Format("2006-01-02 15:04:05")},
	}

	if path := cmdutil.GetConfigString(dev.BackendConfig, "path", ""); path != "" {
		rows = append(rows, []string{"Backend path", path})
	}
	if bucket := cmdutil.GetConfigString(dev.BackendConfig, "bucket", ""); bucket != "" {
		rows = append(rows, []string{"Backend bucket", bucket})
	}

	return rows
}

func runGet(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	dev, err := client.GetDevice(args[0])
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	return cmdutil.PrintResource(os.Stdout, dev, deviceDetail{device: dev})
}
