package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List the models of every configured model provider.

Examples:
  sona models
  sona models anthropic`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	registry, err := provider.InitializeProviders(cmd.Context(), a.config)
	if err != nil {
		return err
	}

	var filter string
	if len(args) > 0 {
		filter = args[0]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCONTEXT\tMAX OUTPUT\tTOOLS\t")
	for _, m := range registry.AllModels() {
		if filter != "" && m.ProviderID != filter {
			continue
		}
		fmt.Fprintf(w, "%s\t%dk\t%d\t%t\t\n",
			m.FullName(),
			m.ContextLength/1000,
			m.MaxOutputTokens,
			m.SupportsTools,
		)
	}
	return w.Flush()
}
