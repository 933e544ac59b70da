// Package obslog builds the zerolog logger the generator, marker, and
// recycler log through, field-scoped to pipeline_uid/node_id/run_id.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New constructs a zerolog.Logger writing JSON to w (os.Stdout when w is
// nil; the CLI passes os.Stderr) at the given level. An unrecognized level falls back to
// info, the same permissiveness the rest of the pack's config loaders show
// toward unknown string fields.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// PipelineScoped returns a child logger with pipeline_uid and pipeline_name
// bound as fields, attached once per Generate call.
func PipelineScoped(base zerolog.Logger, pipelineUID, pipelineName, pipelineRunID string) zerolog.Logger {
	return base.With().
		Str("pipeline_uid", pipelineUID).
		Str("pipeline_name", pipelineName).
		Str("run_id", pipelineRunID).
		Logger()
}

// NodeScoped further scopes a pipeline-scoped logger to one node, for the
// per-node decision-ladder log lines.
func NodeScoped(base zerolog.Logger, nodeID string) zerolog.Logger {
	return base.With().Str("node_id", nodeID).Logger()
}

// TaskgenLogger adapts a zerolog.Logger to taskgen.Logger, so Generate's
// structured log lines carry whatever fields were bound via PipelineScoped/
// NodeScoped plus the per-call fields the generator passes.
type TaskgenLogger struct {
	Zerolog zerolog.Logger
}

func (l TaskgenLogger) Info(fields map[string]any, msg string) {
	l.Zerolog.Info().Fields(fields).Msg(msg)
}

func (l TaskgenLogger) Warn(fields map[string]any, msg string) {
	l.Zerolog.Warn().Fields(fields).Msg(msg)
}
