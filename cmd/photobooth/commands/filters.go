package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List available photo filters",
	Example: `  # List filters in table format (default)
  photobooth filters

  # List filters as JSON
  photobooth filters --format json`,
	RunE: runFilters,
}

var filtersFormat string

func init() {
	rootCmd.AddCommand(filtersCmd)

	filtersCmd.Flags().StringVarP(&filtersFormat, "format", "f", "table", "output format (table or json)")
}

func runFilters(cmd *cobra.Command, args []string) error {
	type entry struct {
		Name  filter.Kind `json:"name"`
		Label string      `json:"label"`
	}
	entries := make([]entry, 0, len(filter.Kinds))
	for _, k := range filter.Kinds {
		entries = append(entries, entry{Name: k, Label: k.Label()})
	}

	switch filtersFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLABEL")
		fmt.Fprintln(w, "----\t-----")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Label)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", filtersFormat)
	}
}
