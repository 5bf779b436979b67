package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/simcache/pkg/models"
)

func newSuggestCmd(flags *rootFlags) *cobra.Command {
	var (
		tenantID      string
		limit         int
		minSimilarity float64
	)

	cmd := &cobra.Command{
		Use:   "suggest <text>",
		Short: "List previously cached prompts similar to a partial query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, flags.configPath)
			if err != nil {
				return err
			}
			a, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			q := models.SuggestQuery{
				Text:     strings.Join(args, " "),
				TenantID: tenantID,
				Limit:    limit,
			}
			if cmd.Flags().Changed("min-similarity") {
				q.MinSimilarity = &minSimilarity
			}

			suggestions, err := a.engine.Suggest(ctx, q)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Println("No suggestions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tAGE\tMODEL\tPROMPT")
			for _, s := range suggestions {
				fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n",
					s.Score, time.Since(s.CreatedAt).Round(time.Second), s.Metadata.Model, s.Prompt)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant namespace to search")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum suggestions (default suggest.limit)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "override suggest.min_similarity")
	return cmd
}
