package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/board"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the board and AI providers this build supports",
	Long: `List the board and AI providers this build supports.

Provider names go into config.yaml under board.provider and ai.provider.

Examples:
  foreman providers
  foreman providers --json | jq '.board[]'`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(providersCmd)
}

var providerHeading = lipgloss.NewStyle().Bold(true)

func runProviders(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	boards := providerNames(board.Registered())
	ais := providerNames(ai.Registered())

	if providersJSON {
		payload := struct {
			Board []string `json:"board"`
			AI    []string `json:"ai"`
		}{boards, ais}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintln(out, providerHeading.Render("Board providers"))
	for _, p := range boards {
		fmt.Fprintf(out, "  %s\n", p)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, providerHeading.Render("AI providers"))
	for _, p := range ais {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}

func providerNames[T ~string](ps []T) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return names
}
