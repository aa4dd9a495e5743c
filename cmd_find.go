package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refset/civic-intake/internal/catalog"
)

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Look up the department for a free-text issue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.Catalog.EnsureInitialized(ctx); err != nil {
			log.Printf("Warning: catalog not ready: %v", err)
		}
		rec := a.Catalog.FindBestMatch(ctx, strings.Join(args, " "), 3)

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, color.New(color.FgCyan, color.Bold).Sprint(catalog.Department(rec)))
		if rec != nil {
			fmt.Fprintf(w, "  code: %s\n  sla: %dh\n  languages: %s\n", rec.ServiceCode, rec.SLAHours, strings.Join(rec.SupportedLanguages, ", "))
		}
		return nil
	},
}
