package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chainflux/demux/internal/config"
	"github.com/chainflux/demux/internal/datastore/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current IndexState of all configured chains",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Health(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "CHAIN\tBLOCK\tHASH\tREPLAY")

	for _, c := range cfg.Chains {
		scoped := db.Chain(c.Name)
		tx, err := scoped.BeginTransaction(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\t<error: %v>\n", c.Name, err)
			continue
		}
		state, ok, err := scoped.ReadIndexState(ctx, tx)
		_ = scoped.Rollback(ctx, tx)
		if err != nil {
			fmt.Fprintf(w, "%s\t<error: %v>\n", c.Name, err)
			continue
		}
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", c.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", c.Name, state.BlockNumber, state.BlockHash, state.IsReplay)
	}
	w.Flush()
	return nil
}
