package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/internal/mcp"
	"github.com/qent/sona-sub000/internal/storage"
	"github.com/qent/sona-sub000/pkg/types"
)

var (
	providersConnect bool
	providersTimeout time.Duration
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List MCP tool providers",
	Long: `List the MCP tool providers from config with their enablement.

With --connect every enabled provider is connected and its tools listed.

Examples:
  sona providers
  sona providers --connect
  sona providers toggle github
  sona providers tool github create_issue`,
	RunE: runProvidersList,
}

var providersToggleCmd = &cobra.Command{
	Use:   "toggle NAME",
	Short: "Enable or disable a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersToggle,
}

var providersToolCmd = &cobra.Command{
	Use:   "tool NAME TOOL",
	Short: "Enable or disable one tool of a provider",
	Args:  cobra.ExactArgs(2),
	RunE:  runProvidersTool,
}

func init() {
	providersCmd.Flags().BoolVar(&providersConnect, "connect", false, "Connect enabled providers and list their tools")
	providersCmd.Flags().DurationVar(&providersTimeout, "timeout", 30*time.Second, "How long to wait for connections")
	providersCmd.AddCommand(providersToggleCmd)
	providersCmd.AddCommand(providersToolCmd)
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if providersConnect {
		return listConnected(cmd, a)
	}

	ctx := cmd.Context()
	configs, err := a.providers.List(ctx)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No MCP providers configured.")
		return nil
	}
	enabled, err := a.providers.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	disabled, err := a.providers.LoadDisabledTools(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSPORT\tENABLED\tDISABLED TOOLS\t")
	for _, c := range configs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t\n",
			c.Name,
			c.Transport,
			enabled[c.Name],
			strings.Join(types.SortedKeys(disabled[c.Name]), ","),
		)
	}
	return w.Flush()
}

// listConnected starts the provider manager and prints statuses once no
// provider is still connecting.
func listConnected(cmd *cobra.Command, a *app) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), providersTimeout)
	defer cancel()

	a.manager = mcp.NewManager(a.providers, mcp.NewSDKConnector(nil), a.bus)
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	statuses := a.manager.Statuses()
	for s := range a.manager.StatusStream(ctx) {
		statuses = s
		if !connecting(s) {
			break
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATE\tTOOL\tDESCRIPTION\t")
	for _, s := range statuses {
		if len(s.Tools) == 0 {
			fmt.Fprintf(w, "%s\t%s\t\t%s\t\n", s.Name, s.State, s.Cause)
			continue
		}
		for _, t := range s.Tools {
			name := t.Original
			if s.IsToolDisabled(t.Original) {
				name += " (disabled)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", s.Name, s.State, name, firstLine(t.Description))
		}
	}
	return w.Flush()
}

func connecting(statuses []types.ProviderStatus) bool {
	for _, s := range statuses {
		if s.State == types.ProviderConnecting {
			return true
		}
	}
	return false
}

func runProvidersToggle(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	name := args[0]
	if err := requireProvider(ctx, a.providers, name); err != nil {
		return err
	}
	enabled, err := a.providers.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	enabled[name] = !enabled[name]
	if err := a.providers.SaveEnabled(ctx, enabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s enabled: %t\n", name, enabled[name])
	return nil
}

func runProvidersTool(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	name, tool := args[0], args[1]
	if err := requireProvider(ctx, a.providers, name); err != nil {
		return err
	}
	disabled, err := a.providers.LoadDisabledTools(ctx)
	if err != nil {
		return err
	}
	if disabled[name] == nil {
		disabled[name] = make(map[string]bool)
	}
	disabled[name][tool] = !disabled[name][tool]
	if err := a.providers.SaveDisabledTools(ctx, disabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s enabled: %t\n", name, tool, !disabled[name][tool])
	return nil
}

func requireProvider(ctx context.Context, repo *storage.ProviderRepository, name string) error {
	configs, err := repo.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range configs {
		if c.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", mcp.ErrProviderNotFound, name)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
