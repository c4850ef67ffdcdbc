package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/mutator/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history <object-id>",
	Short: "Show the modification and rollback history of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initOffline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mods, rollbacks, err := env.Store.GetHistory(ctx, args[0])
		if err != nil {
			return err
		}

		return printJSON(struct {
			Modifications []model.ModificationRecord `json:"modifications"`
			Rollbacks     []model.RollbackRecord     `json:"rollbacks"`
		}{mods, rollbacks})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
