package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <object-id>",
	Short: "Roll a durable object back to an earlier version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt64("to")
		reason, _ := cmd.Flags().GetString("reason")
		if target <= 0 {
			return eris.New("--to must be a positive version number")
		}

		ctx := cmd.Context()
		env, err := initOffline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		obj, err := env.Rollback.Rollback(ctx, args[0], target, reason)
		if err != nil {
			return err
		}

		zap.L().Info("rollback complete",
			zap.String("object_id", obj.ID),
			zap.Int64("version", obj.Version))

		return printJSON(obj)
	},
}

func init() {
	rollbackCmd.Flags().Int64("to", 0, "Target version to restore")
	rollbackCmd.Flags().String("reason", "", "Why the rollback is being performed")
	_ = rollbackCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(rollbackCmd)
}
