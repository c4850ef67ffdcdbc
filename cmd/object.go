package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/internal/store"
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Create and inspect durable objects",
}

var objectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new durable object from a code file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		language, _ := cmd.Flags().GetString("language")
		codeFile, _ := cmd.Flags().GetString("file")

		code, err := os.ReadFile(codeFile)
		if err != nil {
			return eris.Wrapf(err, "read code file %s", codeFile)
		}

		ctx := cmd.Context()
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		obj, err := env.Pipeline.CreateObject(ctx, args[0], language, string(code))
		if err != nil {
			return err
		}

		zap.L().Info("object created",
			zap.String("id", obj.ID),
			zap.String("name", obj.Name),
			zap.Int64("version", obj.Version))

		return printJSON(obj)
	},
}

var objectGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a durable object with its current code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initOffline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		obj, err := env.Store.GetObject(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(obj)
	},
}

var objectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List durable objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		ctx := cmd.Context()
		env, err := initOffline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		objs, err := env.Store.ListObjects(ctx, store.ObjectFilter{
			Status: model.Status(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		return printJSON(objs)
	},
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	objectCreateCmd.Flags().StringP("language", "l", "python", "Language of the object (python, javascript, go)")
	objectCreateCmd.Flags().StringP("file", "f", "", "Path to the initial code file")
	_ = objectCreateCmd.MarkFlagRequired("file")

	objectListCmd.Flags().String("status", "", "Filter by status (active, rejected, rolled_back)")
	objectListCmd.Flags().Int("limit", 50, "Maximum number of objects to return")
	objectListCmd.Flags().Int("offset", 0, "Number of objects to skip")

	objectCmd.AddCommand(objectCreateCmd)
	objectCmd.AddCommand(objectGetCmd)
	objectCmd.AddCommand(objectListCmd)
	rootCmd.AddCommand(objectCmd)
}
