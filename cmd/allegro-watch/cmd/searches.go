package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List configured saved searches and their seen-item counts",
	RunE:  runSearches,
}

func init() {
	rootCmd.AddCommand(searchesCmd)
}

func runSearches(c *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tENABLED\tSEEN")

	for _, s := range cfg.Searches {
		seen, err := a.store.LoadSeenIDs(c.Context(), s.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", s.Name, s.Path, !s.Disabled, len(seen))
	}

	return w.Flush()
}
