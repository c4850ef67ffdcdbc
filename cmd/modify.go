package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/internal/resilience"
)

var modifyCmd = &cobra.Command{
	Use:   "modify <object-id> <request>",
	Short: "Request a modification to a durable object",
	Long: "Runs the full modification pipeline: plan, apply, validate, score, " +
		"and commit or reject. Recoverable failures are retried.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		retries, _ := cmd.Flags().GetInt("retries")
		goal, _ := cmd.Flags().GetString("goal")

		request := args[1]
		if goal != "" {
			request += "\n\nImprovement goal: " + goal
		}

		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = retries
		retryCfg.OnRetry = resilience.RetryLogger("modify")

		outcome, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ModificationOutcome, error) {
			return env.Pipeline.RequestModification(ctx, args[0], request)
		})
		if err != nil {
			return err
		}

		switch outcome.State {
		case model.AttemptCommitted:
			zap.L().Info("modification committed",
				zap.String("object_id", outcome.ObjectID),
				zap.Int64("new_version", outcome.NewVersion),
				zap.Float64("weighted_score", outcome.Evaluation.WeightedScore))
		case model.AttemptRejected:
			zap.L().Warn("modification rejected",
				zap.String("object_id", outcome.ObjectID),
				zap.String("reason", outcome.RejectReason))
		}

		return printJSON(outcome)
	},
}

func init() {
	modifyCmd.Flags().Int("retries", 3, "Total attempts for recoverable failures")
	modifyCmd.Flags().String("goal", "", "Optional improvement goal forwarded to the planner")
	rootCmd.AddCommand(modifyCmd)
}
