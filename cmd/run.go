package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one data refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		logger.Info("refresh complete",
			zap.String("run_id", run.ID),
			zap.Int("points_added", run.PointsAdded),
			zap.Int("counties_updated", run.CountiesUpdated),
			zap.Duration("duration", run.Duration()),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
