package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"orchestrator-core/internal/partialrun"
	"orchestrator-core/internal/pipelineir"
)

func newMarkCommand() *cobra.Command {
	var pipelinePath string
	var outputPath string
	var from string
	var to string
	var baseRunID string

	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Mark a pipeline IR for a partial run between --from and --to node sets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pipelinePath == "" {
				return invalidInvocationf("--pipeline is required")
			}
			if from == "" || to == "" {
				return invalidInvocationf("--from and --to are both required")
			}
			if outputPath == "" {
				outputPath = pipelinePath
			}

			p, err := LoadPipeline(pipelinePath)
			if err != nil {
				return err
			}

			chiefSettings := pipelineir.DefaultChiefSettings()
			if baseRunID != "" {
				chiefSettings = pipelineir.ChiefSettings{
					Strategy:  pipelineir.ChiefStrategyBasePipelineRun,
					BaseRunID: baseRunID,
				}
			}

			if err := partialrun.MarkPipeline(p, predicateFromList(from), predicateFromList(to), chiefSettings); err != nil {
				return err
			}

			if err := WritePipeline(outputPath, p); err != nil {
				return err
			}
			cmd.Printf("marked %d node(s) to run, chief=%v\n", len(partialrun.KeptNodeIDs(p)), chiefNodeDisplay(p))
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "path to the pipeline IR JSON file")
	cmd.Flags().StringVar(&outputPath, "output", "", "where to write the marked IR (default: overwrite --pipeline)")
	cmd.Flags().StringVar(&from, "from", "", "comma-separated node ids forming the partial run's starting set")
	cmd.Flags().StringVar(&to, "to", "", "comma-separated node ids forming the partial run's ending set")
	cmd.Flags().StringVar(&baseRunID, "base-run", "", "pin the chief node's base run (default: reuse the latest prior pipeline run)")
	return cmd
}

// predicateFromList builds a partialrun.NodePredicate from a comma-separated
// list of node ids.
func predicateFromList(raw string) partialrun.NodePredicate {
	ids := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = true
		}
	}
	return func(nodeID string) bool { return ids[nodeID] }
}

func chiefNodeDisplay(p *pipelineir.Pipeline) string {
	id, ok := partialrun.ChiefNodeID(p)
	if !ok {
		return "(none)"
	}
	return id
}
