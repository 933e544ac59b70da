package cli

import (
	"github.com/spf13/cobra"

	"orchestrator-core/internal/partialrun"
)

func newRecycleCommand() *cobra.Command {
	var markedPath string
	var baseRunID string
	var newRunID string

	cmd := &cobra.Command{
		Use:   "recycle",
		Short: "Re-publish a base run's prior node outputs under a new pipeline run, ahead of the chief node's own snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if markedPath == "" {
				return invalidInvocationf("--marked is required")
			}
			ac := fromContext(cmd.Context())

			p, err := LoadPipeline(markedPath)
			if err != nil {
				return err
			}

			store, err := openStore(ac.Config)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := partialrun.ReusePipelineRunArtifacts(cmd.Context(), store, p, baseRunID, newRunID); err != nil {
				return err
			}
			cmd.Println("recycle: done")
			return nil
		},
	}

	cmd.Flags().StringVar(&markedPath, "marked", "", "path to a pipeline IR JSON file already marked by `mark`")
	cmd.Flags().StringVar(&baseRunID, "base-run", "", "pipeline run to reuse outputs from (default: the most recent prior run)")
	cmd.Flags().StringVar(&newRunID, "new-run", "", "pipeline run outputs are being recycled into (default: the IR's runtime_spec.pipeline_run_id)")
	return cmd
}
