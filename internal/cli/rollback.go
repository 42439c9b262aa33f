package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chainflux/demux/internal/config"
	"github.com/chainflux/demux/internal/datastore/postgres"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [chain] [block_number]",
	Short: "Force a chain's IndexState back to a previously recorded snapshot",
	Args:  cobra.ExactArgs(2),
	RunE:  runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	chainName := args[0]
	target, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block number %q: %w", args[1], err)
	}

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

	scoped := db.Chain(chainName)
	tx, err := scoped.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	restoreTo := uint64(0)
	if target > 0 {
		restoreTo = target - 1
	}
	if err := scoped.RestoreSnapshot(ctx, tx, restoreTo); err != nil {
		_ = scoped.Rollback(ctx, tx)
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := scoped.Commit(ctx, tx); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}

	fmt.Printf("chain %s rolled back to block %d\n", chainName, restoreTo)
	return nil
}
