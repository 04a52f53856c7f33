package device

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/cmdutil"
	"github.com/cryptblk/cryptblk/internal/cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show live status of an attached device",
	Long: `Show the live status of an attached device, including its status line
and dispatch counters.

Examples:
  # Show status
  cryptblkctl device status vault0

  # Show as JSON
  cryptblkctl device status vault0 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	status, err := client.GetDeviceStatus(name)
	if err != nil {
		return fmt.Errorf("failed to get device status: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		fmt.Println()
		fmt.Printf("Device: %s\n", status.Name)
		fmt.Println()
		fmt.Printf("  Cipher:        %s\n", status.Cipher)
		fmt.Printf("  IV mode:       %s\n", status.IVMode)
		fmt.Printf("  Sectors:       %d (%d-byte sectors)\n", status.Sectors, status.SectorSize)
		fmt.Printf("  Features:      %s\n", cmdutil.EmptyOr(strings.Join(status.FeatureArgs, " "), "-"))
		fmt.Printf("  Attached:      %s\n", status.AttachedSince.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Status line:   %s\n", status.StatusLine)
		fmt.Println()
		fmt.Println("  Dispatch counters:")
		fmt.Printf("    Inline runs:      %d\n", status.Stats.InlineRuns)
		fmt.Printf("    Worker tasks:     %d\n", status.Stats.WorkerTasks)
		fmt.Printf("    Deferred tasks:   %d\n", status.Stats.DeferredTasks)
		fmt.Printf("    Queued tasks:     %d\n", status.Stats.QueuedTasks)
		fmt.Printf("    Queued writes:    %d\n", status.Stats.QueuedWrites)
		fmt.Printf("    Queued deferred:  %d\n", status.Stats.QueuedDeferred)
		fmt.Println()
	}

	return nil
}
