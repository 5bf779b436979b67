package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/simcache/pkg/models"
	"github.com/pario-ai/simcache/pkg/upstream"
)

func newCaptureCmd(flags *rootFlags) *cobra.Command {
	var (
		model         string
		tenantID      string
		userID        string
		maxAge        time.Duration
		minSimilarity float64
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "capture <prompt>",
		Short: "Answer a prompt from the cache, or from the upstream model on a miss",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, flags.configPath)
			if err != nil {
				return err
			}
			if model == "" {
				return errors.New("--model is required")
			}

			router := upstream.New(cfg, nil)
			routes, err := router.Resolve(model)
			if err != nil {
				return fmt.Errorf("resolve model: %w", err)
			}

			a, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			// Records are scoped by the primary route's provider. A fallback
			// that answers is reported below but does not change the scope.
			prompt := strings.Join(args, " ")
			req := models.CaptureRequest{
				Prompt: prompt,
				Metadata: models.Metadata{
					Provider: routes[0].Provider.Name,
					Model:    model,
					UserID:   userID,
					TenantID: tenantID,
				},
			}
			if cmd.Flags().Changed("max-age") {
				req.Policy.MaxAge = &maxAge
			}
			if cmd.Flags().Changed("min-similarity") {
				req.Policy.MinSimilarity = &minSimilarity
			}

			var used upstream.Route
			res, err := a.engine.Capture(ctx, req, router.Producer(model, prompt, &used))
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Response   string  `json:"response"`
					Cached     bool    `json:"cached"`
					CostSaved  bool    `json:"cost_saved"`
					RecordID   string  `json:"record_id"`
					Score      float64 `json:"score"`
					AnsweredBy string  `json:"answered_by,omitempty"`
				}{string(res.Payload), res.Cached, res.CostSaved, res.RecordID, res.Score, answeredBy(used)})
			}

			status := "miss, answered by " + answeredBy(used)
			if res.Cached {
				status = fmt.Sprintf("hit (score %.3f)", res.Score)
			}
			fmt.Fprintf(os.Stderr, "cache: %s, record %s\n", status, res.RecordID)
			fmt.Println(string(res.Payload))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model or route alias to answer with")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant namespace for the lookup")
	cmd.Flags().StringVar(&userID, "user", "", "user id stored with the record")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override cache.default_ttl for this capture (0 disables freshness)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "override cache.similarity_threshold for this capture")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

// answeredBy names the route that produced a fresh answer, or "" on a hit.
func answeredBy(r upstream.Route) string {
	if r.Provider.Name == "" {
		return ""
	}
	return r.Provider.Name + "/" + r.Model
}
