package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// clearer is implemented by stores that can drop every record.
type clearer interface {
	Clear(ctx context.Context) error
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache records",
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

			if all {
				c, ok := a.store.(clearer)
				if !ok {
					return fmt.Errorf("store backend %q cannot be cleared", cfg.Store.Backend)
				}
				if err := c.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("All cache records cleared.")
				return nil
			}

			n, err := a.engine.Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired records.\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove every record, not only expired ones")
	return cmd
}
