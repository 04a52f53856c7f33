// Package cmdutil carries the shared plumbing of cryptblkctl commands:
// global flags, client construction with token refresh, and output helpers
// that respect the --output format.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cryptblk/cryptblk/internal/cli/credentials"
	"github.com/cryptblk/cryptblk/internal/cli/output"
	"github.com/cryptblk/cryptblk/internal/cli/prompt"
	"github.com/cryptblk/cryptblk/pkg/apiclient"
)

// GlobalFlags holds the persistent flag values of the root command.
type GlobalFlags struct {
	ServerURL string
	Token     string
	Output    string
	NoColor   bool
	Verbose   bool
}

// Flags is populated by the root command before any subcommand runs.
var Flags = &GlobalFlags{}

// GetAuthenticatedClient builds an API client for the current context.
// Explicit --server/--token flags win over stored credentials. An expired
// access token is refreshed transparently when a refresh token exists, and
// the refreshed tokens are persisted.
func GetAuthenticatedClient() (*apiclient.Client, error) {
	if Flags.ServerURL != "" && Flags.Token != "" {
		return apiclient.New(Flags.ServerURL).WithToken(Flags.Token), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	ctx, err := store.GetCurrentContext()
	if err != nil {
		return nil, fmt.Errorf("not logged in. Run 'cryptblkctl login' first")
	}

	url := ctx.ServerURL
	if Flags.ServerURL != "" {
		url = Flags.ServerURL
	}
	if url == "" {
		return nil, fmt.Errorf("no server URL configured. Run 'cryptblkctl login --server <url>' first")
	}

	tok := ctx.AccessToken
	if Flags.Token != "" {
		tok = Flags.Token
	}

	if ctx.IsExpired() && ctx.HasRefreshToken() {
		newTokens, err := apiclient.New(url).RefreshToken(ctx.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("session expired. Run 'cryptblkctl login' to re-authenticate")
		}
		if err := store.UpdateTokens(newTokens.AccessToken, newTokens.RefreshToken, newTokens.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to save refreshed tokens: %w", err)
		}
		tok = newTokens.AccessToken
	}

	if tok == "" {
		return nil, fmt.Errorf("no access token. Run 'cryptblkctl login' first")
	}

	return apiclient.New(url).WithToken(tok), nil
}

// GetOutputFormat returns the raw --output flag value.
func GetOutputFormat() string {
	return Flags.Output
}

// GetOutputFormatParsed returns the validated --output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled reports whether --no-color was given.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// IsVerbose reports whether --verbose was given.
func IsVerbose() bool {
	return Flags.Verbose
}

// encodeStructured writes data as JSON or YAML and reports true when it did.
// Table format returns false so the caller renders its table instead.
func encodeStructured(w io.Writer, format output.Format, data any) (bool, error) {
	switch format {
	case output.FormatJSON:
		return true, output.PrintJSON(w, data)
	case output.FormatYAML:
		return true, output.PrintYAML(w, data)
	}
	return false, nil
}

// PrintOutput renders list-style results. JSON and YAML get the raw data;
// table format renders tableRenderer, or emptyMsg when there is nothing to
// show.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if done, err := encodeStructured(w, format, data); done {
		return err
	}
	if isEmpty {
		_, _ = fmt.Fprintln(w, emptyMsg)
		return nil
	}
	return output.PrintTable(w, tableRenderer)
}

// PrintResource renders a single resource: raw data for JSON/YAML, the
// tableRenderer otherwise.
func PrintResource(w io.Writer, data any, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if done, err := encodeStructured(w, format, data); done {
		return err
	}
	return output.PrintTable(w, tableRenderer)
}

// PrintResourceWithSuccess is for mutations: JSON/YAML output the resulting
// resource, table format prints a success line instead.
func PrintResourceWithSuccess(w io.Writer, data any, successMsg string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if done, err := encodeStructured(w, format, data); done {
		return err
	}
	PrintSuccess(successMsg)
	return nil
}

// PrintSuccess prints a success line, table format only. Structured formats
// stay machine-readable.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !IsColorDisabled()).Success(msg)
}

// PrintSuccessWithInfo prints a success line plus plain follow-up lines,
// table format only.
func PrintSuccessWithInfo(msg string, infoLines ...string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !IsColorDisabled()).Success(msg)
	for _, line := range infoLines {
		fmt.Println(line)
	}
}

// RunDeleteWithConfirmation asks before running deleteFn, unless force is
// set. A declined or aborted prompt is not an error.
func RunDeleteWithConfirmation(resourceType, name string, force bool, deleteFn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete %s '%s'?", resourceType, name), force)
	if err != nil {
		return HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if err := deleteFn(); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("%s '%s' deleted successfully", resourceType, name))
	return nil
}

// HandleAbort turns a Ctrl+C prompt error into a clean exit message; every
// other error passes through.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// ParseCommaSeparatedList splits a comma-separated flag value into trimmed,
// non-empty items.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// BoolToYesNo renders a bool as "yes"/"no" for table cells.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr substitutes fallback for an empty value, for table cells that
// should show "-" rather than nothing.
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// GetConfigString reads a string out of a backend config map, with a
// default when the key is missing or not a string.
func GetConfigString(config map[string]any, key, defaultValue string) string {
	if config == nil {
		return defaultValue
	}
	if v, ok := config[key].(string); ok {
		return v
	}
	return defaultValue
}
